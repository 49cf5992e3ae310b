// Package extraction supplies candidate values to the adjudication engine.
// A Source either reads bundles prepared elsewhere or asks Claude to extract
// candidates from a case's documents.
package extraction

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clinical-abstraction/internal/model"
)

// Source loads the candidate bundle for one case.
type Source interface {
	Load(ctx context.Context, caseID string) (*model.CaseBundle, error)
}

// Lister enumerates the case ids a source can load.
type Lister interface {
	CaseIDs() ([]string, error)
}

// FileSource reads one JSON bundle per case from Dir, named <case_id>.json.
type FileSource struct {
	Dir string
}

// NewFileSource returns a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (s *FileSource) Load(ctx context.Context, caseID string) (*model.CaseBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "extraction: load bundle")
	}
	if err := validCaseID(caseID); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, caseID+".json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, eris.Wrapf(model.ErrCaseNotFound, "extraction: no bundle for case %s", caseID)
	}
	b, err := ReadBundleFile(path)
	if err != nil {
		return nil, err
	}
	if b.CaseID == "" {
		b.CaseID = caseID
	}
	if b.CaseID != caseID {
		return nil, eris.Errorf("extraction: bundle %s declares case %s", path, b.CaseID)
	}
	return b, nil
}

// CaseIDs lists the case ids with a bundle in Dir, sorted.
func (s *FileSource) CaseIDs() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "*.json"))
	if err != nil {
		return nil, eris.Wrap(err, "extraction: list bundles")
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadBundle decodes a case bundle. Unknown JSON keys are rejected so a
// misspelled attribute does not silently drop evidence.
func ReadBundle(r io.Reader) (*model.CaseBundle, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var b model.CaseBundle
	if err := dec.Decode(&b); err != nil {
		return nil, eris.Wrap(err, "extraction: decode bundle")
	}
	return &b, nil
}

// ReadBundleFile decodes the bundle stored at path.
func ReadBundleFile(path string) (*model.CaseBundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	b, err := ReadBundle(f)
	if err != nil {
		return nil, eris.Wrapf(err, "extraction: read %s", path)
	}
	return b, nil
}

func validCaseID(caseID string) error {
	if caseID == "" || caseID == "." || caseID == ".." || strings.ContainsAny(caseID, `/\`) {
		return eris.Errorf("extraction: invalid case id %q", caseID)
	}
	return nil
}
