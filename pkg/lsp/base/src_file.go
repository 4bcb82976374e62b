package base

import (
	"unicode/utf16"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// DocumentInfo is a snapshot of an editor document. Version is advanced by the
// connection on every change notification it sends.
type DocumentInfo struct {
	URI        string `json:"uri"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
	LanguageID string `json:"languageId"`
}

// FileHolder indexes a text by line so that rune offsets can be translated to
// LSP positions (UTF-16 code units) and back.
type FileHolder struct {
	FileURI  string
	lineStrs []string
	// lineOffsets[i] is the rune offset at which line i starts.
	lineOffsets []int
}

func NewFileHolder(uri string, content string) *FileHolder {
	// split content into lines on '\n', '\r\n' and lone '\r'
	lineStrs := []string{}
	lineOffsets := []int{0}
	start := 0
	runeOffset := 0
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRuneInString(content[i:])
		switch {
		case r == '\n':
			lineStrs = append(lineStrs, content[start:i])
			start = i + 1
			runeOffset++
			lineOffsets = append(lineOffsets, runeOffset)
		case r == '\r':
			lineStrs = append(lineStrs, content[start:i])
			if i+1 < len(content) && content[i+1] == '\n' {
				start = i + 2
				runeOffset += 2
				size = 2
			} else {
				start = i + 1
				runeOffset++
			}
			lineOffsets = append(lineOffsets, runeOffset)
		default:
			runeOffset++
		}
		i += size
	}
	lineStrs = append(lineStrs, content[start:])

	return &FileHolder{
		FileURI:     uri,
		lineStrs:    lineStrs,
		lineOffsets: lineOffsets,
	}
}

func (fh *FileHolder) LineCount() int {
	return len(fh.lineStrs)
}

func (fh *FileHolder) GetLine(line int) string {
	if line < 0 || line >= len(fh.lineStrs) {
		return ""
	}
	return fh.lineStrs[line]
}

// LineOf returns the line containing the rune offset.
func (fh *FileHolder) LineOf(offset int) int {
	line := 0
	for i := 1; i < len(fh.lineOffsets); i++ {
		if fh.lineOffsets[i] > offset {
			break
		}
		line = i
	}
	return line
}

// OffsetToPosition converts a rune offset to an LSP position. Offsets past the
// end are clamped.
func (fh *FileHolder) OffsetToPosition(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	line := fh.LineOf(offset)
	col := offset - fh.lineOffsets[line]

	character := 0
	for _, r := range fh.lineStrs[line] {
		if col == 0 {
			break
		}
		character += utf16.RuneLen(r)
		col--
	}
	return Position{Line: line, Character: character}
}

// PositionToOffset converts an LSP position to a rune offset. Positions past
// the end of a line are clamped to the line end.
func (fh *FileHolder) PositionToOffset(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(fh.lineStrs) {
		last := len(fh.lineStrs) - 1
		return fh.lineOffsets[last] + utf8.RuneCountInString(fh.lineStrs[last])
	}
	if pos.Character <= 0 {
		return fh.lineOffsets[pos.Line]
	}

	// The trailing newline stops IndexIn at the line end instead of
	// reporting an overrun as 0.
	line := fh.lineStrs[pos.Line]
	index := protocol.Position{Character: protocol.UInteger(pos.Character)}.IndexIn(line + "\n")
	if index > len(line) {
		index = len(line)
	}
	return fh.lineOffsets[pos.Line] + utf8.RuneCountInString(line[:index])
}
