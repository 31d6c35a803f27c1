package differ

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/permitwatch/pkg/types"
)

const subjectPrefix = "PERMITWATCH"

// Subject returns the notification subject for new availability
func Subject(now time.Time) string {
	return fmt.Sprintf("%s: New permit availability found as of %s", subjectPrefix, now.Format(time.RFC3339))
}

// ErrorSubject is the subject of failed-cycle notifications
func ErrorSubject() string {
	return subjectPrefix + ": Error checking for permits"
}

// ErrorBody describes a failed cycle for the error recipients
func ErrorBody(now time.Time, detail string) string {
	return fmt.Sprintf("There was an error checking for permits at %s. The error message given is: %s.\n\n",
		now.Format("2006-01-02 15:04:05"), detail)
}

// FormatReport renders a diff report as a plain text notification body.
// Permits are listed by ID, segments by name and months chronologically:
//
//	Name (url)
//		Segment
//			March 2025
//				[12, 14]
func FormatReport(report types.DiffReport) string {
	var output strings.Builder

	for _, id := range report.IDs() {
		snap := report[id]
		output.WriteString(fmt.Sprintf("%s (%s)\n", snap.Name, snap.URL))

		switch shape := snap.Shape.(type) {
		case types.Divided:
			for _, name := range shape.SortedSegments() {
				output.WriteString(fmt.Sprintf("\t%s\n", name))
				writeCalendar(&output, shape.Segments[name], "\t\t")
			}
		case types.Undivided:
			writeCalendar(&output, shape.Availability, "\t")
		}
	}

	return output.String()
}

func writeCalendar(output *strings.Builder, cal types.Calendar, indent string) {
	for _, bucket := range cal.SortedBuckets() {
		output.WriteString(fmt.Sprintf("%s%s\n%s\t%s\n", indent, bucket, indent, formatDays(cal[bucket])))
	}
}

func formatDays(days types.DaySet) string {
	sorted := days.Sorted()
	parts := make([]string, len(sorted))
	for i, d := range sorted {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Summary returns a one-line description of a report for logs
func Summary(report types.DiffReport) string {
	if report.Empty() {
		return "no new availability"
	}
	return fmt.Sprintf("%d new day(s) across %d permit(s)", report.DayCount(), len(report))
}
