// time.go - Kurze Dauerangaben fuer Fortschrittsanzeigen
package format

import (
	"fmt"
	"time"
)

// HumanDuration limits d to two units.
func HumanDuration(d time.Duration) string {
	switch {
	case d >= 100*time.Hour:
		return "99h+"
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return d.Round(time.Second).String()
	}
}
