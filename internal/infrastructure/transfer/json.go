package transfer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/domain/activity"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

func encodeJSON(w io.Writer, b *query.LessonBundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("transfer: encode json: %w", err)
	}
	return nil
}

// decodeJSON accepts a bundle object or a bare array of activities.
func decodeJSON(r io.Reader) (*query.LessonBundle, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err != nil {
		return nil, shared.WrapError("transfer", "DecodeJSON", shared.ErrInvalidInput, "empty bundle", err)
	}

	dec := json.NewDecoder(br)
	b := &query.LessonBundle{}
	if first == '[' {
		err = dec.Decode(&b.Activities)
	} else {
		err = dec.Decode(b)
	}
	if err != nil {
		return nil, shared.WrapError("transfer", "DecodeJSON", shared.ErrInvalidFormat, "bundle is not valid json", err)
	}
	if b.Activities == nil {
		b.Activities = []activity.Portable{}
	}
	return b, nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		c, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(c)) {
			return c, br.UnreadByte()
		}
	}
}
