package orderfile

import (
	"fmt"
	"strings"
	"time"

	"github.com/plugsift/plugsift/pkg/plugin"
)

const (
	// DefaultManagerHeader is written when the order file has no manager
	// header of its own.
	DefaultManagerHeader = "## This file was automatically generated by Vortex. Do not edit this file."

	// DefaultMarker tags the lines plugsift writes into the order file.
	DefaultMarker = "PLUGSIFT"

	// RemovedHeading starts the removed-plugins block.
	RemovedHeading = "##REMOVED PLUGINS##"

	stampLayout = "2006-01-02 15:04:05"
)

// DefaultPinned are disabled entries the mod manager expects to keep.
var DefaultPinned = []string{"#AltarGymNavigation.esp", "#TamrielLeveledRegion.esp"}

// ManagerHeader returns the first line of s when it is a generated-by
// header from the mod manager.
func (s *Snapshot) ManagerHeader() (string, bool) {
	if len(s.Lines) == 0 {
		return "", false
	}
	first := strings.ToLower(strings.TrimSpace(s.Lines[0]))
	if strings.HasPrefix(first, "## this file was automatically generated by") {
		return s.Lines[0], true
	}
	return "", false
}

// Removals returns the removal lines previously written with marker.
func (s *Snapshot) Removals(marker string) []string {
	tag := "#REMOVED BY " + marker
	var out []string
	for _, line := range s.Lines {
		if strings.HasPrefix(line, "#") && strings.Contains(line, tag) {
			out = append(out, line)
		}
	}
	return out
}

// RemovalLine formats the disabled entry for a removed plugin.
func RemovalLine(id plugin.ID, marker string, at time.Time) string {
	return fmt.Sprintf("#%s #REMOVED BY %s (%s)", id.Name(), marker, at.Format(stampLayout))
}

// removedKey returns the plugin key of a removal line.
func removedKey(line string) string {
	name := strings.TrimPrefix(line, "#")
	if i := strings.Index(name, " #REMOVED BY "); i >= 0 {
		name = name[:i]
	}
	return plugin.New(name).Key()
}

// Assembly describes a final order.
type Assembly struct {
	// Current is the order file to rebuild.
	Current *Snapshot

	// Required plugins lead the order when enabled in Current.
	Required []plugin.ID

	// Optional plugins follow Required when enabled in Current.
	Optional []plugin.ID

	// Failed plugins are dropped and listed as removed.
	Failed []plugin.ID

	// Marker tags the enforced banner and removal lines.
	Marker string

	// Pinned lines follow the enabled block.
	Pinned []string

	// Now stamps the banner.
	Now time.Time

	// RemovedAt stamps new removal lines. Zero means Now.
	RemovedAt time.Time
}

// Assemble builds the final order lines: the manager header, the enforced
// banner, required then optional then other enabled plugins, the pinned
// entries and the removed block.
func Assemble(a Assembly) []string {
	if a.Current == nil {
		a.Current = &Snapshot{}
	}
	if a.Marker == "" {
		a.Marker = DefaultMarker
	}
	if a.Pinned == nil {
		a.Pinned = DefaultPinned
	}
	removedAt := a.RemovedAt
	if removedAt.IsZero() {
		removedAt = a.Now
	}

	failed := plugin.NewSet(a.Failed...)
	enabled := plugin.NewSet(a.Current.Entries()...)

	lead := plugin.NewSet()
	for _, id := range append(append([]plugin.ID(nil), a.Required...), a.Optional...) {
		if enabled.Contains(id) && !failed.Contains(id) {
			lead.Add(id)
		}
	}
	body := lead.Items()
	for _, id := range enabled.Items() {
		if !failed.Contains(id) && !lead.Contains(id) {
			body = append(body, id)
		}
	}

	header, ok := a.Current.ManagerHeader()
	if !ok {
		header = DefaultManagerHeader
	}

	lines := []string{
		header,
		"",
		fmt.Sprintf("##%s ENFORCED ORDER (%s)##", a.Marker, a.Now.Format(stampLayout)),
		"",
	}
	lines = append(lines, plugin.Strings(body)...)
	lines = append(lines, "")
	lines = append(lines, a.Pinned...)
	lines = append(lines, "", RemovedHeading)
	lines = append(lines, removedBlock(a.Current, a.Failed, a.Marker, removedAt)...)
	return lines
}

// removedBlock keeps existing removal lines and adds one for each failed
// plugin not already listed.
func removedBlock(current *Snapshot, failed []plugin.ID, marker string, at time.Time) []string {
	existing := current.Removals(marker)
	listed := make(map[string]bool, len(existing))
	for _, line := range existing {
		listed[removedKey(line)] = true
	}
	out := append([]string(nil), existing...)
	for _, id := range plugin.Dedupe(failed) {
		if listed[id.Key()] {
			continue
		}
		out = append(out, RemovalLine(id, marker, at))
		listed[id.Key()] = true
	}
	return out
}

// Interim rebuilds original in place for the kept plugins: comment and
// blank lines stay where they were, kept entries stay at their original
// position, and kept required or optional plugins missing from original
// are appended. Failed plugins are then listed as removed, under the
// removed heading unless original already has one.
func Interim(original *Snapshot, required, optional, keep, failed []plugin.ID, marker string, at time.Time) []string {
	if marker == "" {
		marker = DefaultMarker
	}
	keepSet := plugin.NewSet(keep...)
	keepSet.Add(required...)
	keepSet.Add(optional...)

	written := plugin.NewSet()
	var lines []string
	for _, line := range original.Lines {
		switch {
		case strings.TrimSpace(line) == "":
			lines = append(lines, "")
		case IsComment(line):
			lines = append(lines, line)
		default:
			id := plugin.New(line)
			if keepSet.Contains(id) && written.Add(id) == 1 {
				lines = append(lines, id.Name())
			}
		}
	}
	for _, id := range append(append([]plugin.ID(nil), required...), optional...) {
		if written.Add(id) == 1 {
			lines = append(lines, id.Name())
		}
	}
	var removed []string
	for _, id := range plugin.Dedupe(failed) {
		if written.Contains(id) {
			continue
		}
		found := false
		for _, r := range original.Removals(marker) {
			if removedKey(r) == id.Key() {
				found = true
				break
			}
		}
		if !found {
			removed = append(removed, RemovalLine(id, marker, at))
		}
	}
	if len(removed) > 0 {
		if !hasLine(original.Lines, RemovedHeading) {
			lines = append(lines, "", RemovedHeading)
		}
		lines = append(lines, removed...)
	}
	return lines
}

func hasLine(lines []string, want string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) == want {
			return true
		}
	}
	return false
}
