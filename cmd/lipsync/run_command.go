package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lipsync/internal/config"
	"lipsync/internal/deps"
	"lipsync/internal/observe"
	"lipsync/internal/pipeline"
	"lipsync/internal/preflight"
	"lipsync/internal/stageexec"
)

type runFlags struct {
	video  string
	audio  string
	output string

	fps              float64
	imageSize        int
	batchSize        int
	faceDetBatchSize int
	resizeFactor     int
	rotate           bool
	noSmooth         bool
	keepArtifacts    bool
	pads             []int
	box              []int
	crop             []int
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Lip-sync a video to an audio track",
		Long: `Lip-sync the face in --video to the speech in --audio and write the
result to --output.

Pipeline options default to the [pipeline] section of the config file; the
flags below override them for this run only. Rectangles use y1 y2 x1 x2
ordering, for example --crop 0,-1,100,-1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCfg := *cfg
			if err := flags.apply(cmd, &runCfg); err != nil {
				return err
			}
			if err := runCfg.RequireSidecar(); err != nil {
				return err
			}
			if missing := deps.Missing(preflight.CheckSystemDeps(cmd.Context(), &runCfg)); len(missing) > 0 {
				parts := make([]string, 0, len(missing))
				for _, m := range missing {
					parts = append(parts, fmt.Sprintf("%s (%s)", m.Name, m.Detail))
				}
				return fmt.Errorf("missing dependencies: %s; run `lipsync doctor` for details", strings.Join(parts, ", "))
			}

			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			metrics, err := observe.Global()
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(logger)
			runner.Metrics = metrics
			res, err := runner.Run(cmd.Context(), pipeline.Request{
				VideoPath:  flags.video,
				AudioPath:  flags.audio,
				OutputPath: flags.output,
				Config:     &runCfg,
			})
			if err != nil {
				return runFailure(err)
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{
					"output":     res.OutputPath,
					"frames":     res.Frames,
					"windows":    res.Windows,
					"run_id":     res.RunID,
					"elapsed_ms": res.Elapsed.Milliseconds(),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s\n", res.OutputPath)
			fmt.Fprintf(out, "  %d frames in %s (run %s)\n", res.Frames, formatDuration(res.Elapsed), res.RunID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.video, "video", "", "Input video or still image containing the face")
	f.StringVar(&flags.audio, "audio", "", "Input audio (or any file ffmpeg can read audio from)")
	f.StringVar(&flags.output, "output", "", "Destination video file")
	f.Float64Var(&flags.fps, "fps", 0, "Output frame rate; also sets the audio window stride")
	f.IntVar(&flags.imageSize, "image-size", 0, "Model face crop size in pixels")
	f.IntVar(&flags.batchSize, "batch-size", 0, "Inference batch size")
	f.IntVar(&flags.faceDetBatchSize, "face-det-batch-size", 0, "Initial face detection batch size")
	f.IntVar(&flags.resizeFactor, "resize-factor", 0, "Downscale frames by this integer factor")
	f.BoolVar(&flags.rotate, "rotate", false, "Rotate frames 90 degrees clockwise")
	f.BoolVar(&flags.noSmooth, "nosmooth", false, "Disable temporal smoothing of face boxes")
	f.BoolVar(&flags.keepArtifacts, "keep-artifacts", false, "Copy the faulty frame next to the output when no face is found")
	f.IntSliceVar(&flags.pads, "pads", nil, "Face box padding: top,bottom,left,right")
	f.IntSliceVar(&flags.box, "box", nil, "Fixed face box y1,y2,x1,x2 (skips detection)")
	f.IntSliceVar(&flags.crop, "crop", nil, "Frame crop y1,y2,x1,x2; -1 means the frame edge")
	for _, name := range []string{"video", "audio", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// apply overrides cfg with every flag set on the command line.
func (f runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	p := &cfg.Pipeline
	if changed("fps") {
		p.FPS = f.fps
	}
	if changed("image-size") {
		p.ImageSize = f.imageSize
	}
	if changed("batch-size") {
		p.BatchSize = f.batchSize
	}
	if changed("face-det-batch-size") {
		p.FaceDetBatchSize = f.faceDetBatchSize
	}
	if changed("resize-factor") {
		p.ResizeFactor = f.resizeFactor
	}
	if changed("rotate") {
		p.Rotate = f.rotate
	}
	if changed("nosmooth") {
		p.Smoothing = !f.noSmooth
	}
	if changed("keep-artifacts") {
		cfg.Paths.KeepArtifactsOnError = f.keepArtifacts
	}
	for _, q := range []struct {
		name  string
		value []int
		dst   *[4]int
	}{
		{"pads", f.pads, &p.Pads},
		{"box", f.box, &p.Box},
		{"crop", f.crop, &p.Crop},
	} {
		if !changed(q.name) {
			continue
		}
		if len(q.value) != 4 {
			return fmt.Errorf("--%s takes exactly four integers, got %d", q.name, len(q.value))
		}
		copy(q.dst[:], q.value)
	}
	return nil
}

// runFailure prefixes a pipeline error with its failure kind. Interrupted
// runs are returned as is so main stays quiet about them.
func runFailure(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s failure: %w", stageexec.Label(pipeline.Classify(err)), err)
}
