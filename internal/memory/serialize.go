package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"forgemind/internal/types"
)

// fragmentSchemaVersion is the on-disk envelope version.
const fragmentSchemaVersion = 1

type fragmentEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Data          json.RawMessage `json:"data"`
	Checksum      string          `json:"checksum"`
}

// canonicalBytes produces the deterministic byte form checksums are computed
// over. Marshaling the typed struct fixes field order regardless of what key
// order the envelope arrived with.
func canonicalBytes(f *Fragment) ([]byte, error) {
	return json.Marshal(f)
}

// SerializeFragment wraps a fragment in a versioned, checksummed envelope.
func SerializeFragment(f *Fragment) ([]byte, error) {
	data, err := canonicalBytes(f)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize fragment %s: %w", f.ID, err)
	}
	sum := sha256.Sum256(data)
	return json.Marshal(fragmentEnvelope{
		SchemaVersion: fragmentSchemaVersion,
		Data:          data,
		Checksum:      hex.EncodeToString(sum[:]),
	})
}

// DeserializeFragment unwraps an envelope, rejecting unknown schema versions
// and checksum mismatches with typed errors.
func DeserializeFragment(doc []byte) (*Fragment, error) {
	var env fragmentEnvelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return nil, fmt.Errorf("invalid fragment envelope: %w", err)
	}
	if env.SchemaVersion != fragmentSchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", types.ErrSchemaVersion, env.SchemaVersion, fragmentSchemaVersion)
	}

	var frag Fragment
	if err := json.Unmarshal(env.Data, &frag); err != nil {
		return nil, fmt.Errorf("invalid fragment data: %w", err)
	}

	canonical, err := canonicalBytes(&frag)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, fmt.Errorf("%w: fragment %s", types.ErrChecksumMismatch, frag.ID)
	}
	return &frag, nil
}
