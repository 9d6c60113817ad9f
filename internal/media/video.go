package media

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/BlueBrain/veeone-veedrive/internal/config"
)

// VideoTransformer renders animated GIF previews of video files with
// ffmpeg. The clip starts at 1% into the video, so previews of long
// recordings skip past title cards, and lasts three seconds at 10 fps with
// a palette pass for decent GIF colors.
type VideoTransformer struct {
	run Runner
}

func NewVideoTransformer(run Runner) *VideoTransformer {
	return &VideoTransformer{run: run}
}

// Thumbnail produces the GIF preview bytes for the video at path, scaled
// into the box according to mode.
func (v *VideoTransformer) Thumbnail(ctx context.Context, path string, boxWidth, boxHeight int, mode string) ([]byte, error) {
	duration, err := v.probeDuration(ctx, path)
	if err != nil {
		return nil, err
	}
	width, height, err := v.probeDimensions(ctx, path)
	if err != nil {
		return nil, err
	}

	scale, crop, err := scaleFilter(boxWidth, boxHeight, width, height, mode)
	if err != nil {
		return nil, err
	}
	seek := formatSeek(int(math.Floor(duration / 100)))

	filter := fmt.Sprintf("fps=10,scale=%s:flags=lanczos,split[s0][s1];[s0]palettegen[p];[s1][p]paletteuse%s", scale, crop)
	out, err := v.run.Run(ctx, "ffmpeg",
		"-ss", seek,
		"-t", "3",
		"-y",
		"-i", path,
		"-f", "gif",
		"-vf", filter,
		"pipe:1",
	)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no output for %s", ErrTool, path)
	}
	return out, nil
}

func (v *VideoTransformer) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := v.run.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot parse duration of %s: %v", ErrTool, path, err)
	}
	return d, nil
}

func (v *VideoTransformer) probeDimensions(ctx context.Context, path string) (int, int, error) {
	out, err := v.run.Run(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	if err != nil {
		return 0, 0, err
	}
	dims := strings.Split(strings.TrimSpace(string(out)), "x")
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("%w: cannot parse dimensions of %s", ErrTool, path)
	}
	w, errW := strconv.Atoi(dims[0])
	h, errH := strconv.Atoi(dims[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: cannot parse dimensions of %s", ErrTool, path)
	}
	return w, h, nil
}

// scaleFilter builds the ffmpeg scale expression and, for fill mode, the
// trailing crop filter. ffmpeg keeps the aspect ratio on the -1 axis.
func scaleFilter(boxWidth, boxHeight, videoWidth, videoHeight int, mode string) (scale, crop string, err error) {
	switch mode {
	case config.ScalingFit:
		reqAspect := float64(boxWidth) / float64(boxHeight)
		videoAspect := float64(videoWidth) / float64(videoHeight)
		if reqAspect > videoAspect {
			return fmt.Sprintf("-1:%d", boxHeight), "", nil
		}
		return fmt.Sprintf("%d:-1", boxWidth), "", nil
	case config.ScalingFill:
		ratio := math.Max(float64(boxWidth)/float64(videoWidth), float64(boxHeight)/float64(videoHeight))
		scaledWidth := int(math.Ceil(float64(videoWidth) * ratio))
		scale = fmt.Sprintf("%d:-1", scaledWidth)
		crop = fmt.Sprintf(",crop=%d:%d", boxWidth, boxHeight)
		return scale, crop, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrBadScalingMode, mode)
	}
}

// formatSeek renders a second count as H:MM:SS for the ffmpeg -ss flag.
func formatSeek(seconds int) string {
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
