package state

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/pkg/errors"
)

// FileName is the name of the document file inside a snapshot directory.
const FileName = "state.json"

var requiredKeys = []string{"capturedAt", "containers", "volumes", "networks"}

// Header is the part of a document needed to summarize a snapshot.
type Header struct {
	CapturedAt time.Time
	Containers int
	Volumes    int
	Networks   int
}

// Encode serializes a document as indented JSON. Nil collections are written
// as empty lists, since Decode rejects null for the required keys.
func Encode(s State) ([]byte, error) {
	if s.Containers == nil {
		s.Containers = []Container{}
	}
	if s.Volumes == nil {
		s.Volumes = []Volume{}
	}
	if s.Networks == nil {
		s.Networks = []Network{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode state")
	}
	return append(data, '\n'), nil
}

// Decode parses a document. Any input that is not a JSON object carrying all
// top-level keys with the expected shapes yields ErrCorruptSnapshot.
func Decode(data []byte) (State, error) {
	if err := checkKeys(data); err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, errors.Wrap(errdefs.ErrCorruptSnapshot, err.Error())
	}
	return s, nil
}

// DecodeHeader reads the capture time and collection sizes. It applies the
// same checks as Decode, so a document it accepts is also loadable.
func DecodeHeader(data []byte) (Header, error) {
	s, err := Decode(data)
	if err != nil {
		return Header{}, err
	}
	return Header{
		CapturedAt: s.CapturedAt,
		Containers: len(s.Containers),
		Volumes:    len(s.Volumes),
		Networks:   len(s.Networks),
	}, nil
}

func checkKeys(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(errdefs.ErrCorruptSnapshot, err.Error())
	}
	for _, key := range requiredKeys {
		value, ok := raw[key]
		if !ok {
			return errors.Wrapf(errdefs.ErrCorruptSnapshot, "missing key %q", key)
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return errors.Wrapf(errdefs.ErrCorruptSnapshot, "key %q is null", key)
		}
	}
	return nil
}
