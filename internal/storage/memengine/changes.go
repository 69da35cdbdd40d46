package memengine

import (
	"bytes"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
)

// applyChanges mutates files in place, returning the normalized list of
// changes that actually had an effect (so the caller can detect
// RedundantChange when it is empty — spec.md invariant "A command whose
// computed change set is empty fails with RedundantChange").
func applyChanges(files map[string]string, changes []command.Change) ([]command.Change, error) {
	applied := make([]command.Change, 0, len(changes))
	for _, c := range changes {
		ok, err := applyOne(files, c)
		if err != nil {
			return nil, err
		}
		if ok {
			applied = append(applied, c)
		}
	}
	return applied, nil
}

func applyOne(files map[string]string, c command.Change) (bool, error) {
	switch c.Type {
	case command.ChangeUpsertText:
		if existing, ok := files[c.Path]; ok && existing == c.Content {
			return false, nil
		}
		files[c.Path] = c.Content
		return true, nil

	case command.ChangeUpsertJSON:
		canon, err := canonicalizeJSON(c.Content)
		if err != nil {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "invalid JSON at %s: %v", c.Path, err)
		}
		if existing, ok := files[c.Path]; ok {
			if existingCanon, err := canonicalizeJSON(existing); err == nil && existingCanon == canon {
				return false, nil
			}
		}
		files[c.Path] = canon
		return true, nil

	case command.ChangeRemove:
		if _, ok := files[c.Path]; !ok {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "cannot remove missing entry %s", c.Path)
		}
		delete(files, c.Path)
		return true, nil

	case command.ChangeRename:
		src := c.Path
		dst := c.Content
		content, ok := files[src]
		if !ok {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "cannot rename missing entry %s", src)
		}
		if _, exists := files[dst]; exists {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "rename target %s already exists", dst)
		}
		delete(files, src)
		files[dst] = content
		return true, nil

	case command.ChangeApplyJSONPatch:
		existing, ok := files[c.Path]
		if !ok {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "cannot patch missing entry %s", c.Path)
		}
		patch, err := jsonpatch.DecodePatch([]byte(c.Content))
		if err != nil {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "invalid JSON patch for %s: %v", c.Path, err)
		}
		patched, err := patch.Apply([]byte(existing))
		if err != nil {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "JSON patch failed for %s: %v", c.Path, err)
		}
		canon, err := canonicalizeJSON(string(patched))
		if err != nil {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "JSON patch produced invalid JSON for %s: %v", c.Path, err)
		}
		existingCanon, _ := canonicalizeJSON(existing)
		if existingCanon == canon {
			return false, nil
		}
		files[c.Path] = canon
		return true, nil

	case command.ChangeApplyTextPatch:
		existing, ok := files[c.Path]
		if !ok {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "cannot patch missing entry %s", c.Path)
		}
		patched, err := applyUnifiedDiff(existing, c.Content)
		if err != nil {
			return false, apierrors.Newf(apierrors.KindChangeConflict, "text patch failed for %s: %v", c.Path, err)
		}
		if patched == existing {
			return false, nil
		}
		files[c.Path] = patched
		return true, nil

	default:
		return false, apierrors.Newf(apierrors.KindChangeConflict, "unknown change type %q", c.Type)
	}
}

// canonicalizeJSON re-serializes JSON with sorted map keys, no
// superfluous whitespace and the single trailing newline json.Encoder
// appends, so structural equality can be checked with a plain string
// comparison.
func canonicalizeJSON(raw string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
