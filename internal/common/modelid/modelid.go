// Package modelid parses the dataset/version identity of a model.
package modelid

import (
	"fmt"
	"strings"
)

// ID identifies a model version. It doubles as the cache namespace and the
// API resource path.
type ID struct {
	DatasetID string
	VersionID string
}

// Parse splits "dataset/version" into an ID. Anything other than exactly two
// non-empty segments is rejected.
func Parse(s string) (ID, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ID{}, fmt.Errorf("invalid model id %q: want <dataset>/<version>", s)
	}
	return ID{DatasetID: parts[0], VersionID: parts[1]}, nil
}

// MustParse is Parse for package-level constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return id.DatasetID + "/" + id.VersionID
}

func (id ID) IsZero() bool {
	return id.DatasetID == "" && id.VersionID == ""
}
