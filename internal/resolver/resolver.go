// Package resolver implements the path resolver of spec.md §4.3: it
// turns human paths into backend identifiers via cached, decrypted
// directory listings, with the tie-break rule for duplicate names and
// the invalidation contract spec.md requires. The traversal shape
// (split on '/', walk segment by segment from a known root) follows
// azcopy's traverser/pathUtils_test.go path-splitting conventions,
// generalized from URL path segments to the encrypted tree's plaintext
// names.
package resolver

import (
	"context"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/CrispStrobe/filen-cli-go/internal/backend"
	"github.com/CrispStrobe/filen-cli-go/internal/cache"
	"github.com/CrispStrobe/filen-cli-go/internal/fcrypto"
	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

// Backend is the subset of the backend client the resolver needs. It is
// an interface so tests can fake directory listings without an HTTP
// server.
type Backend interface {
	ListDirectory(ctx context.Context, folderID model.Identifier) ([]backend.RawNode, error)
	CreateFolder(ctx context.Context, parentID model.Identifier, nameEnvelope string) (model.Identifier, error)
}

// NameEnvelopeCodec decrypts a node's name envelope and encrypts a
// plaintext name into one, decoupling the resolver from fcrypto's
// concrete envelope format so it can be tested with a trivial fake.
type NameEnvelopeCodec interface {
	DecryptName(envelope string, contentKey []byte) (string, error)
	EncryptName(name string, contentKey []byte) (string, error)
}

// Resolver resolves paths against a cached, identifier-addressed tree.
type Resolver struct {
	backend   Backend
	cache     *cache.DirectoryCache
	masterKey model.MasterKey
	rootID    model.Identifier
	codec     NameEnvelopeCodec
	now       func() time.Time
}

// New builds a Resolver rooted at rootID.
func New(b Backend, c *cache.DirectoryCache, masterKey model.MasterKey, rootID model.Identifier, codec NameEnvelopeCodec) *Resolver {
	if c == nil {
		c = cache.New()
	}
	if codec == nil {
		codec = masterKeyCodec{masterKey}
	}
	return &Resolver{backend: b, cache: c, masterKey: masterKey, rootID: rootID, codec: codec, now: time.Now}
}

// NewMasterKeyCodec exposes the resolver's default NameEnvelopeCodec so
// callers outside this package (the orchestrator, which needs its own
// codec reference to encrypt upload file names) can share the exact same
// codec a Resolver falls back to when none is supplied to New.
func NewMasterKeyCodec(masterKey model.MasterKey) NameEnvelopeCodec {
	return masterKeyCodec{masterKey}
}

// masterKeyCodec decrypts/encrypts child name envelopes under the master
// key, per spec.md §4.3. A non-nil contentKey argument is used in place
// of the master key; the resolver and the orchestrator always pass nil,
// so both file and folder names are wrapped under the master key.
type masterKeyCodec struct {
	masterKey model.MasterKey
}

func (m masterKeyCodec) DecryptName(envelope string, contentKey []byte) (string, error) {
	key := m.masterKey[:]
	if contentKey != nil {
		key = contentKey
	}
	plain, err := fcrypto.UnwrapMetadata(key, envelope)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (m masterKeyCodec) EncryptName(name string, contentKey []byte) (string, error) {
	key := m.masterKey[:]
	if contentKey != nil {
		key = contentKey
	}
	return fcrypto.WrapMetadata(key, []byte(name))
}

// ResolveResult carries the chosen node plus, when the last segment's name
// was shared under the same parent, every node with that name (the chosen
// one included); Duplicates is nil when the name was unique. It serves
// callers that must refuse ambiguous matches (spec.md §4.3).
type ResolveResult struct {
	Node       model.Node
	Duplicates []model.Node
}

// Resolve walks path from the root, returning the chosen Node. strict
// controls whether duplicate names under the same parent fail with
// ferrors.Ambiguous (true) or silently apply the tie-break rule (false).
func (r *Resolver) Resolve(ctx context.Context, path model.Path, strict bool) (ResolveResult, error) {
	segments := path.Segments()
	currentParent := r.rootID
	var result ResolveResult

	for i, seg := range segments {
		if seg == "" || !utf8.ValidString(seg) || containsNUL(seg) {
			return ResolveResult{}, ferrors.New(ferrors.InvalidPath, "resolver.Resolve", nil)
		}
		children, err := r.List(ctx, currentParent, pathPrefix(segments, i))
		if err != nil {
			return ResolveResult{}, err
		}
		matches := filterByName(children, seg)
		if len(matches) == 0 {
			return ResolveResult{}, ferrors.New(ferrors.NotFound, "resolver.Resolve", nil)
		}
		chosen, dups := tieBreak(matches)
		if strict && len(dups) > 0 {
			return ResolveResult{Node: chosen, Duplicates: dups}, ferrors.New(ferrors.Ambiguous, "resolver.Resolve", nil)
		}
		result = ResolveResult{Node: chosen, Duplicates: dups}
		currentParent = chosen.ID
	}
	return result, nil
}

// List returns the (decrypted) children of folder, using the cache when
// fresh. canonicalPath is used only as the cache's secondary key; pass ""
// if unknown.
func (r *Resolver) List(ctx context.Context, folder model.Identifier, canonicalPath string) ([]model.Node, error) {
	if entry, ok := r.cache.Get(folder); ok {
		return entry.Children, nil
	}
	raw, err := r.backend.ListDirectory(ctx, folder)
	if err != nil {
		return nil, err
	}
	children := make([]model.Node, 0, len(raw))
	for _, rn := range raw {
		n, err := r.decodeNode(rn)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	r.cache.Put(model.DirectoryCacheEntry{
		FolderID:  folder,
		Path:      canonicalPath,
		Children:  children,
		FetchedAt: r.now(),
	})
	return children, nil
}

func (r *Resolver) decodeNode(rn backend.RawNode) (model.Node, error) {
	var contentKey []byte
	var fm model.FileMetadata
	if !rn.IsFolder && rn.MetadataEnvelope != "" {
		// Files: metadata envelope is wrapped under the master key and
		// itself carries the per-file content key used to encrypt chunks,
		// per spec.md §3/§4.1.
		plain, err := fcrypto.UnwrapMetadata(r.masterKey[:], rn.MetadataEnvelope)
		if err != nil {
			return model.Node{}, err
		}
		if err := decodeFileMetadata(plain, &fm); err != nil {
			return model.Node{}, err
		}
		keyBytes, err := hexDecode(fm.KeyHex)
		if err != nil {
			return model.Node{}, err
		}
		contentKey = keyBytes
	}

	name, err := r.codec.DecryptName(rn.NameEnvelope, nil)
	if err != nil {
		return model.Node{}, err
	}

	n := model.Node{
		ID:         rn.UUID,
		ParentID:   rn.ParentUUID,
		Name:       name,
		ModifiedAt: time.UnixMilli(rn.Timestamp),
		Trashed:    rn.Trashed,
		Size:       rn.Size,
		ChunkCount: rn.Chunks,
		Version:    rn.Version,
		Location:   model.FileLocation{Region: rn.Region, Bucket: rn.Bucket},
	}
	if rn.IsFolder {
		n.Kind = model.KindFolder
	} else {
		n.Kind = model.KindFile
		copy(n.ContentKey[:], contentKey)
		n.FileHashHex = fm.HashHex
	}
	return n, nil
}

// EnsureFolder walks path, creating any missing segments as folders.
func (r *Resolver) EnsureFolder(ctx context.Context, path model.Path) (model.Node, error) {
	segments := path.Segments()
	currentParent := r.rootID
	node := model.Node{ID: r.rootID, Kind: model.KindFolder}

	for i, seg := range segments {
		children, err := r.List(ctx, currentParent, pathPrefix(segments, i))
		if err != nil {
			return model.Node{}, err
		}
		matches := filterByName(children, seg)
		if len(matches) > 0 {
			chosen, _ := tieBreak(matches)
			currentParent = chosen.ID
			node = chosen
			continue
		}
		nameEnvelope, err := r.codec.EncryptName(seg, nil)
		if err != nil {
			return model.Node{}, err
		}
		newID, err := r.backend.CreateFolder(ctx, currentParent, nameEnvelope)
		if err != nil {
			return model.Node{}, err
		}
		r.Invalidate(currentParent, pathPrefix(segments, i))
		node = model.Node{ID: newID, ParentID: currentParent, Name: seg, Kind: model.KindFolder, ModifiedAt: r.now()}
		currentParent = newID
	}
	return node, nil
}

// Invalidate evicts the cached listing of a folder, per spec.md §4.3.
func (r *Resolver) Invalidate(folder model.Identifier, canonicalPath string) {
	r.cache.Invalidate(folder, canonicalPath)
}

// tieBreak applies spec.md §4.3's duplicate-name rule: prefer the most
// recently modified non-trashed node; if still tied, the lexicographically
// smaller identifier. Returns the chosen node and the full set of
// candidates (including the chosen one) for diagnostics.
func tieBreak(candidates []model.Node) (model.Node, []model.Node) {
	nonTrashed := make([]model.Node, 0, len(candidates))
	for _, n := range candidates {
		if !n.Trashed {
			nonTrashed = append(nonTrashed, n)
		}
	}
	pool := candidates
	if len(nonTrashed) > 0 {
		pool = nonTrashed
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if !pool[i].ModifiedAt.Equal(pool[j].ModifiedAt) {
			return pool[i].ModifiedAt.After(pool[j].ModifiedAt)
		}
		return pool[i].ID.String() < pool[j].ID.String()
	})
	dups := candidates
	if len(dups) == 1 {
		dups = nil
	}
	return pool[0], dups
}

func filterByName(nodes []model.Node, name string) []model.Node {
	var out []model.Node
	for _, n := range nodes {
		if n.Name == name {
			out = append(out, n)
		}
	}
	return out
}

func pathPrefix(segments []string, n int) string {
	p := model.Path{}
	for i := 0; i < n; i++ {
		p = p.Join(segments[i])
	}
	return p.String()
}

func containsNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}
