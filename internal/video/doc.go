// Package video decodes source frames and encodes the composited result.
//
// Loader shells out to ffmpeg for raw RGBA frames (ffprobe supplies the
// geometry) and applies the optional resize, rotation, and crop. Writer feeds
// frames to a second ffmpeg process that produces the silent intermediate
// video later handed to the muxer.
package video
