// Package corpus stores staged upload artifacts and the deployed knowledge
// corpus in a single bbolt file. Blobs are zstd-compressed and addressed by
// their BLAKE3 digest.
package corpus

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"go.etcd.io/bbolt"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/domain"
	"github.com/arturoeanton/knowledge-gatekeeper/internal/port"
)

var (
	bucketStaging     = []byte("staging")
	bucketCorpus      = []byte("corpus")
	bucketDeployments = []byte("deployments")

	keyManifest = []byte("manifest")
)

// ErrNotStaged is returned when a deploy references artifacts that are not
// in the staging area.
var ErrNotStaged = errors.New("artifacts not staged")

// Zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("corpus: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("corpus: zstd decoder initialization failed: " + err.Error())
	}
}

// Store is a bbolt-backed ArtifactStager and Deployer.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var (
	_ port.ArtifactStager = (*Store)(nil)
	_ port.Deployer       = (*Store)(nil)
	_ port.CorpusReader   = (*Store)(nil)
)

// deploymentRecord is the value stored in the deployments bucket.
type deploymentRecord struct {
	UploadID     string                  `json:"upload_id"`
	Domain       string                  `json:"domain"`
	Artifacts    []domain.StagedArtifact `json:"artifacts"`
	AutoDeploy   bool                    `json:"auto_deploy"`
	DeployedAt   time.Time               `json:"deployed_at"`
	RolledBackAt *time.Time              `json:"rolled_back_at,omitempty"`
}

// Open opens or creates the corpus database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create corpus directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketStaging, bucketCorpus, bucketDeployments} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Staging ---

// Stage compresses the artifacts into a staging bucket named after the
// upload. The staging reference is the upload id. Artifact names must be
// unique within an upload since deployed documents are keyed by name.
func (s *Store) Stage(ctx context.Context, uploadID string, artifacts []domain.Artifact) (string, []domain.StagedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if len(artifacts) == 0 {
		return "", nil, fmt.Errorf("stage %s: %w", uploadID, port.ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(artifacts))
	for _, a := range artifacts {
		if _, dup := seen[a.Name]; dup {
			return "", nil, fmt.Errorf("stage %s: %w: duplicate artifact name %q", uploadID, port.ErrInvalidInput, a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	manifest := make([]domain.StagedArtifact, 0, len(artifacts))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketStaging)
		if root.Bucket([]byte(uploadID)) != nil {
			if err := root.DeleteBucket([]byte(uploadID)); err != nil {
				return err
			}
		}
		b, err := root.CreateBucket([]byte(uploadID))
		if err != nil {
			return err
		}
		for _, a := range artifacts {
			digest := Digest(a.Data)
			if b.Get([]byte(digest)) == nil {
				if err := b.Put([]byte(digest), zstdEncoder.EncodeAll(a.Data, nil)); err != nil {
					return err
				}
			}
			manifest = append(manifest, domain.StagedArtifact{
				Name:      a.Name,
				MediaType: a.MediaType,
				Size:      int64(len(a.Data)),
				Digest:    digest,
			})
		}
		data, err := json.Marshal(manifest)
		if err != nil {
			return err
		}
		return b.Put(keyManifest, data)
	})
	if err != nil {
		return "", nil, fmt.Errorf("stage %s: %w", uploadID, err)
	}
	return uploadID, manifest, nil
}

// Discard drops a staging bucket.
func (s *Store) Discard(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketStaging).DeleteBucket([]byte(ref))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// --- Deployment ---

// Deploy copies the staged artifacts into the domain's corpus bucket and
// records the deployment. A second Deploy of the same upload is a no-op
// that reports Replayed.
func (s *Store) Deploy(ctx context.Context, req port.DeployRequest) (*port.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *port.Deployment
	err := s.db.Update(func(tx *bbolt.Tx) error {
		deployments := tx.Bucket(bucketDeployments)
		if raw := deployments.Get([]byte(req.UploadID)); raw != nil {
			var rec deploymentRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode deployment: %w", err)
			}
			out = &port.Deployment{UploadID: rec.UploadID, Domain: rec.Domain, Artifacts: rec.Artifacts, Replayed: true}
			return nil
		}

		staged := tx.Bucket(bucketStaging).Bucket([]byte(req.StagingRef))
		if staged == nil {
			return fmt.Errorf("%w: %s", ErrNotStaged, req.StagingRef)
		}
		var manifest []domain.StagedArtifact
		if err := json.Unmarshal(staged.Get(keyManifest), &manifest); err != nil {
			return fmt.Errorf("decode manifest: %w", err)
		}

		docs, err := tx.Bucket(bucketCorpus).CreateBucketIfNotExists([]byte(req.Domain))
		if err != nil {
			return err
		}
		for _, a := range manifest {
			blob := staged.Get([]byte(a.Digest))
			if blob == nil {
				return fmt.Errorf("%w: blob %s", ErrNotStaged, a.Digest)
			}
			if err := docs.Put(documentKey(req.UploadID, a.Name), blob); err != nil {
				return err
			}
		}

		rec := deploymentRecord{
			UploadID:   req.UploadID,
			Domain:     req.Domain,
			Artifacts:  manifest,
			AutoDeploy: req.AutoDeploy,
			DeployedAt: s.now().UTC(),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := deployments.Put([]byte(req.UploadID), data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketStaging).DeleteBucket([]byte(req.StagingRef)); err != nil {
			return err
		}
		out = &port.Deployment{UploadID: req.UploadID, Domain: req.Domain, Artifacts: manifest}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", req.UploadID, err)
	}

	slog.Info("corpus deployed", "upload_id", req.UploadID, "domain", req.Domain,
		"artifacts", len(out.Artifacts), "replayed", out.Replayed)
	return out, nil
}

// Rollback removes a deployed upload's documents from the corpus. Rolling
// back twice is a no-op that reports Replayed.
func (s *Store) Rollback(ctx context.Context, uploadID string) (*port.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *port.Deployment
	err := s.db.Update(func(tx *bbolt.Tx) error {
		deployments := tx.Bucket(bucketDeployments)
		raw := deployments.Get([]byte(uploadID))
		if raw == nil {
			return fmt.Errorf("%w: no deployment for %s", port.ErrNotFound, uploadID)
		}
		var rec deploymentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode deployment: %w", err)
		}
		out = &port.Deployment{UploadID: rec.UploadID, Domain: rec.Domain, Artifacts: rec.Artifacts}
		if rec.RolledBackAt != nil {
			out.Replayed = true
			return nil
		}

		if docs := tx.Bucket(bucketCorpus).Bucket([]byte(rec.Domain)); docs != nil {
			for _, a := range rec.Artifacts {
				if err := docs.Delete(documentKey(uploadID, a.Name)); err != nil {
					return err
				}
			}
		}

		at := s.now().UTC()
		rec.RolledBackAt = &at
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return deployments.Put([]byte(uploadID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("rollback %s: %w", uploadID, err)
	}

	slog.Info("corpus rolled back", "upload_id", uploadID, "replayed", out.Replayed)
	return out, nil
}

// Document returns the decompressed content of a deployed artifact.
func (s *Store) Document(ctx context.Context, domainName, uploadID, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketCorpus).Bucket([]byte(domainName))
		if docs == nil {
			return port.ErrNotFound
		}
		v := docs.Get(documentKey(uploadID, name))
		if v == nil {
			return port.ErrNotFound
		}
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("document %s/%s: %w", uploadID, name, err)
	}
	data, err := zstdDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s/%s: %w", uploadID, name, err)
	}
	return data, nil
}

// ListDeployments returns the live deployments of a domain, or of every
// domain when domainName is empty.
func (s *Store) ListDeployments(ctx context.Context, domainName string) ([]port.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []port.Deployment
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(_, v []byte) error {
			var rec deploymentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode deployment: %w", err)
			}
			if rec.RolledBackAt != nil || (domainName != "" && rec.Domain != domainName) {
				return nil
			}
			out = append(out, port.Deployment{UploadID: rec.UploadID, Domain: rec.Domain, Artifacts: rec.Artifacts})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return out, nil
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func documentKey(uploadID, name string) []byte {
	return []byte(uploadID + "/" + name)
}
