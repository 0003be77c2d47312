package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/heimdex/heimdex-editor/internal/timeline"
)

// GenerateEDL renders a CMX3600 edit decision list of the base video track and
// every audio track. Record times are the clips' timeline positions.
func GenerateEDL(snap *timeline.Timeline, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	base := snap.BaseTrackID()
	event := 0
	audio := 0
	for _, tr := range snap.Tracks() {
		var channel string
		switch {
		case tr.ID == base:
			channel = "V"
		case tr.Kind == timeline.TrackAudio:
			audio++
			channel = fmt.Sprintf("A%d", audio)
			if audio == 1 {
				channel = "A"
			}
		default:
			continue
		}
		for _, clip := range snap.ClipsOnTrack(tr.ID) {
			a, _ := snap.Asset(clip.AssetID)
			event++
			srcIn := msToTimecode(clip.TrimStartMs, fps)
			srcOut := msToTimecode(clip.TrimEndMs, fps)
			recIn := msToTimecode(clip.StartMs, fps)
			recOut := msToTimecode(clip.EndMs, fps)

			lines = append(lines,
				fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, "AX", channel, srcIn, srcOut, recIn, recOut),
				fmt.Sprintf("* FROM CLIP NAME:  %s", SanitizeName(a.Name, 128)),
				fmt.Sprintf("* MEDIA PATH:  %s", a.Path),
			)
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int64, fps int) string {
	totalFrames := int64(math.Round(float64(ms) * float64(fps) / 1000.0))
	f := int64(fps)
	frames := totalFrames % f
	totalSeconds := totalFrames / f
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
