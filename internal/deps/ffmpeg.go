package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RequiredEncoders are the ffmpeg encoders the pipeline invokes: the
// intermediate video codec and the PCM codec used for audio transcoding.
var RequiredEncoders = []string{"mpeg4", "pcm_s16le"}

// CheckFFmpegEncoders runs `ffmpeg -encoders` and reports whether every named
// encoder is compiled into the binary.
func CheckFFmpegEncoders(ctx context.Context, ffmpegBinary string, encoders ...string) Status {
	result := Status{
		Name:        "FFmpeg encoders",
		Command:     strings.TrimSpace(ffmpegBinary),
		Description: "Encoders: " + strings.Join(encoders, ", "),
	}
	if result.Command == "" {
		result.Command = "ffmpeg"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, result.Command, "-hide_banner", "-encoders")
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		result.Detail = fmt.Sprintf("list encoders: %s", detail)
		return result
	}

	available := parseEncoderList(output)
	var missing []string
	for _, name := range encoders {
		if _, ok := available[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		result.Detail = "missing encoders: " + strings.Join(missing, ", ")
		return result
	}
	result.Available = true
	return result
}

// parseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Entry lines look like " V....D mpeg4   MPEG-4 part 2"; the header block ends
// at a " ------" separator.
func parseEncoderList(output []byte) map[string]struct{} {
	names := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(output))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inList {
			inList = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		names[fields[1]] = struct{}{}
	}
	return names
}
