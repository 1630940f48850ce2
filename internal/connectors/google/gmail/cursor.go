package gmail

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// CursorVersion is the current cursor format version.
const CursorVersion = 1

// ErrInvalidCursor indicates the cursor could not be decoded.
var ErrInvalidCursor = errors.New("gmail: invalid cursor format")

// Cursor is the Gmail delta marker: the history id up to which all
// changes have been seen. The sync engine stores it as an opaque string.
type Cursor struct {
	// Version is the cursor format version for future compatibility.
	Version int `json:"v"`
	// HistoryID is the startHistoryId for the next history.list.
	HistoryID uint64 `json:"history_id"`
}

// CursorAt returns a cursor positioned at historyID.
func CursorAt(historyID uint64) *Cursor {
	return &Cursor{Version: CursorVersion, HistoryID: historyID}
}

// Encode serialises the cursor to a base64 string for storage.
// An empty cursor encodes to "".
func (c *Cursor) Encode() string {
	if c.IsEmpty() {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor deserialises a cursor. The empty string is an empty cursor.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return &Cursor{Version: CursorVersion}, nil
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}

	if cursor.Version < 1 || cursor.Version > CursorVersion {
		return nil, ErrInvalidCursor
	}

	return &cursor, nil
}

// IsEmpty returns true if the cursor has no sync state.
func (c *Cursor) IsEmpty() bool {
	return c == nil || c.HistoryID == 0
}
