/**
 * Jingle signaling gateway for multi-party meetings.
 * Copyright (C) 2025 struktur AG
 *
 * @author Joachim Bauch <bauch@struktur.de>
 *
 * @license GNU AGPL version 3 or any later version
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package jingle

import (
	"fmt"
	"strings"
)

// CreatorProvider returns the role of the party that created the content
// with the given name.
type CreatorProvider func(name string) Creator

// StaticCreator returns a provider that reports the same role for all
// contents.
func StaticCreator(creator Creator) CreatorProvider {
	return func(name string) Creator {
		return creator
	}
}

// SDP is a parsed session description consisting of one content per media
// section.
type SDP struct {
	Id       string
	Contents []*Content
	Bundle   []string
}

// ParseSDP parses a session description. The creators callback supplies the
// role that created each content; localRole and direction control the
// mapping of the SDP direction attributes to Jingle senders values. Next to
// the description, the session id from the "o=" line is returned.
func ParseSDP(text string, creators CreatorProvider, localRole Creator, direction Direction) (*SDP, string) {
	parts := strings.Split(strings.TrimSuffix(text, "\r\n"), "\r\nm=")
	sessionLines := strings.Split(parts[0], "\r\n")

	var originFields []string
	for _, line := range sessionLines {
		if strings.HasPrefix(line, "o=") {
			originFields = strings.Split(line, " ")
			break
		}
	}
	if len(originFields) <= 3 {
		return nil, ""
	}

	sid := originFields[1]
	id := originFields[2]

	var bundle []string
	for _, line := range sessionLines {
		if value, found := strings.CutPrefix(line, "a=group:BUNDLE "); found {
			bundle = strings.Fields(value)
			break
		}
	}

	var contents []*Content
	names := make(map[string]bool)
	for _, section := range parts[1:] {
		content := parseContent("m="+section, sessionLines, creators(contentName(section)), localRole, direction)
		if content == nil {
			continue
		}
		if names[content.Name] {
			// Duplicate content names would make diffing ambiguous.
			return nil, ""
		}
		names[content.Name] = true
		contents = append(contents, content)
	}

	return &SDP{
		Id:       id,
		Contents: contents,
		Bundle:   bundle,
	}, sid
}

// contentName extracts the name of a media section before it is parsed so
// the creator of the content can be resolved.
func contentName(section string) string {
	lines := strings.Split(section, "\r\n")
	for _, line := range lines {
		if mid, found := strings.CutPrefix(line, "a=mid:"); found {
			return mid
		}
	}
	if media, _, found := strings.Cut(lines[0], " "); found {
		return media
	}
	return lines[0]
}

// String serializes the session description, using the passed session id for
// the "o=" line.
func (s *SDP) String(sid string, localRole Creator, direction Direction) string {
	lines := []string{
		"v=0",
		"o=- " + sid + " " + s.Id + " IN IP4 0.0.0.0",
		"s=-",
		"t=0 0",
	}

	if len(s.Bundle) > 0 {
		lines = append(lines, "a=group:BUNDLE "+strings.Join(s.Bundle, " "))
	}

	for _, content := range s.Contents {
		lines = append(lines, content.ToSDP(localRole, direction))
	}

	return strings.Join(lines, "\r\n") + "\r\n"
}

// FindContent returns the content with the given name or nil.
func (s *SDP) FindContent(name string) *Content {
	for _, content := range s.Contents {
		if content.Name == name {
			return content
		}
	}
	return nil
}

// DiffFrom compares the description with an older revision and returns the
// changes grouped by content action, with at most one entry per action.
func (s *SDP) DiffFrom(old *SDP) map[ContentAction]*SDP {
	diff := make(map[ContentAction]*SDP)

	var removed []*Content
	for _, content := range old.Contents {
		if s.FindContent(content.Name) == nil {
			removed = append(removed, content.CloneHeaderOnly())
		}
	}
	if len(removed) > 0 {
		diff[ContentActionRemove] = s.newDelta(removed)
	}

	var added []*Content
	var modified []*Content
	for _, content := range s.Contents {
		prev := old.FindContent(content.Name)
		if prev == nil {
			added = append(added, content)
		} else if prev.GetSenders() != content.GetSenders() {
			modified = append(modified, content.CloneForModify())
		}
	}
	if len(added) > 0 {
		diff[ContentActionAdd] = s.newDelta(added)
	}
	if len(modified) > 0 {
		diff[ContentActionModify] = s.newDelta(modified)
	}

	return diff
}

func (s *SDP) newDelta(contents []*Content) *SDP {
	bundle := make([]string, 0, len(contents))
	for _, content := range contents {
		bundle = append(bundle, content.Name)
	}
	return &SDP{
		Id:       s.Id,
		Contents: contents,
		Bundle:   bundle,
	}
}

// ApplyDiff merges a change produced by DiffFrom into the description and
// returns the merged result. The description itself is not modified.
func (s *SDP) ApplyDiff(action ContentAction, diff *SDP) (*SDP, error) {
	switch action {
	case ContentActionInit:
		return diff, nil
	case ContentActionAdd, ContentActionAccept:
		contents := make([]*Content, 0, len(s.Contents)+len(diff.Contents))
		contents = append(contents, s.Contents...)
		for _, content := range diff.Contents {
			if s.FindContent(content.Name) != nil {
				return nil, fmt.Errorf("content %s already exists", content.Name)
			}
			contents = append(contents, content)
		}
		bundle := append([]string{}, s.Bundle...)
		for _, content := range diff.Contents {
			found := false
			for _, name := range bundle {
				if name == content.Name {
					found = true
					break
				}
			}
			if !found {
				bundle = append(bundle, content.Name)
			}
		}
		return &SDP{
			Id:       s.Id,
			Contents: contents,
			Bundle:   bundle,
		}, nil
	case ContentActionRemove:
		var contents []*Content
		for _, content := range s.Contents {
			if diff.FindContent(content.Name) == nil {
				contents = append(contents, content)
			}
		}
		var bundle []string
		for _, name := range s.Bundle {
			if diff.FindContent(name) == nil {
				bundle = append(bundle, name)
			}
		}
		return &SDP{
			Id:       s.Id,
			Contents: contents,
			Bundle:   bundle,
		}, nil
	case ContentActionModify:
		contents := make([]*Content, 0, len(s.Contents))
		for _, content := range s.Contents {
			if changed := diff.FindContent(content.Name); changed != nil {
				contents = append(contents, content.WithSenders(changed.GetSenders()))
			} else {
				contents = append(contents, content)
			}
		}
		return &SDP{
			Id:       s.Id,
			Contents: contents,
			Bundle:   s.Bundle,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported content action %s", action)
	}
}
