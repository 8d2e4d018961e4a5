package rumgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/rumgo/blobstore"
	"github.com/hupe1980/rumgo/codec"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/fs"
	"github.com/hupe1980/rumgo/internal/hash"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/resource"
	"github.com/hupe1980/rumgo/internal/vacuum"
)

const (
	// CurrentName is the blob naming the latest backup of a store.
	CurrentName = "CURRENT"
	// ManifestName is the manifest blob inside a backup prefix.
	ManifestName = "MANIFEST"
)

// Manifest describes one backup.
type Manifest struct {
	ID        string       `json:"id"`
	Index     string       `json:"index"`
	CreatedAt time.Time    `json:"createdAt"`
	PageSize  int          `json:"pageSize"`
	Pages     uint32       `json:"pages"`
	AddInfo   bool         `json:"addInfo"`
	Codec     string       `json:"codec"`
	Files     []BackupFile `json:"files"`
}

// BackupFile is one file of a backup.
type BackupFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	CRC32C uint32 `json:"crc32c"`
}

// Backup checkpoints the index and copies its page file to store under a
// fresh backup id, then publishes the id as CURRENT. Writers are blocked
// while the page file is copied.
func (i *Index) Backup(ctx context.Context, store blobstore.BlobStore) (Manifest, error) {
	if err := i.acquireExclusive(); err != nil {
		return Manifest{}, err
	}
	defer i.releaseExclusive()
	if err := i.rc.AcquireBackground(ctx); err != nil {
		return Manifest{}, err
	}
	defer i.rc.ReleaseBackground()

	if err := i.m.Checkpoint(); err != nil {
		return Manifest{}, translateError(err)
	}
	meta, err := vacuum.Meta(i.m)
	if err != nil {
		return Manifest{}, translateError(err)
	}

	man := Manifest{
		ID:        uuid.NewString(),
		Index:     i.id,
		CreatedAt: time.Now().UTC(),
		PageSize:  i.m.PageSize(),
		Pages:     i.m.NumPages(),
		AddInfo:   meta.AddInfo,
		Codec:     i.opts.codec.Name(),
	}
	f, err := i.upload(ctx, store, man.ID, buffer.PageFile)
	if err != nil {
		return Manifest{}, fmt.Errorf("rumgo: backup %s: %w", man.ID, err)
	}
	man.Files = append(man.Files, f)

	data, err := i.opts.codec.Marshal(man)
	if err != nil {
		return Manifest{}, err
	}
	if err := store.Put(ctx, path.Join(man.ID, ManifestName), data); err != nil {
		return Manifest{}, fmt.Errorf("rumgo: backup %s: %w", man.ID, err)
	}
	if err := store.Put(ctx, CurrentName, []byte(man.ID)); err != nil {
		return Manifest{}, fmt.Errorf("rumgo: backup %s: publish: %w", man.ID, err)
	}
	i.logger.InfoContext(ctx, "backup completed", "backup", man.ID, "pages", man.Pages, "bytes", f.Size)
	return man, nil
}

// upload copies one file of the index directory to id/name.
func (i *Index) upload(ctx context.Context, store blobstore.BlobStore, id, name string) (BackupFile, error) {
	src, err := i.opts.fs.OpenFile(filepath.Join(i.dir, name), os.O_RDONLY, 0)
	if err != nil {
		return BackupFile{}, err
	}
	defer src.Close()

	dst, err := store.Create(ctx, path.Join(id, name))
	if err != nil {
		return BackupFile{}, err
	}
	crc := hash.NewCRC32C()
	w := io.MultiWriter(resource.NewRateLimitedWriter(ctx, dst, i.rc), crc)
	n, err := io.Copy(w, src)
	if err == nil {
		err = dst.Sync()
	}
	if err != nil {
		abort(dst)
		return BackupFile{}, err
	}
	if err := dst.Close(); err != nil {
		return BackupFile{}, err
	}
	return BackupFile{Name: name, Size: n, CRC32C: crc.Sum32()}, nil
}

func abort(w blobstore.WritableBlob) {
	if a, ok := w.(blobstore.Aborter); ok {
		_ = a.Abort()
		return
	}
	_ = w.Close()
}

// Backups lists the backup ids in store.
func Backups(ctx context.Context, store blobstore.BlobStore) ([]string, error) {
	names, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		if id, ok := strings.CutSuffix(name, "/"+ManifestName); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Restore writes the backup named by CURRENT into dir, which must not hold
// an index, and returns its manifest. Open the restored index with Open.
func Restore(ctx context.Context, store blobstore.BlobStore, dir string, optFns ...Option) (Manifest, error) {
	current, err := blobstore.ReadAll(ctx, store, CurrentName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return Manifest{}, ErrNoBackup
	}
	if err != nil {
		return Manifest{}, err
	}
	return RestoreBackup(ctx, store, strings.TrimSpace(string(current)), dir, optFns...)
}

// RestoreBackup writes backup id into dir, which must not hold an index.
func RestoreBackup(ctx context.Context, store blobstore.BlobStore, id, dir string, optFns ...Option) (Manifest, error) {
	o := applyOptions(optFns)
	data, err := blobstore.ReadAll(ctx, store, path.Join(id, ManifestName))
	if errors.Is(err, blobstore.ErrNotFound) {
		return Manifest{}, fmt.Errorf("%w: %s", ErrNoBackup, id)
	}
	if err != nil {
		return Manifest{}, err
	}
	var man Manifest
	if err := o.codec.Unmarshal(data, &man); err != nil {
		return Manifest{}, fmt.Errorf("rumgo: manifest of %s: %w", id, err)
	}
	if _, ok := codec.ByName(man.Codec); !ok {
		return Manifest{}, fmt.Errorf("%w: manifest of %s names codec %q", ErrUnsupported, id, man.Codec)
	}

	pages := filepath.Join(dir, buffer.PageFile)
	if ok, err := fs.Exists(o.fs, pages); err != nil {
		return Manifest{}, err
	} else if ok {
		return Manifest{}, fmt.Errorf("%w: %s", ErrExists, dir)
	}
	if err := o.fs.MkdirAll(dir, 0755); err != nil {
		return Manifest{}, err
	}
	if err := o.fs.Remove(filepath.Join(dir, buffer.WALFile)); err != nil && !os.IsNotExist(err) {
		return Manifest{}, err
	}

	for _, f := range man.Files {
		if err := download(ctx, store, o.fs, path.Join(man.ID, f.Name), filepath.Join(dir, f.Name), f); err != nil {
			return Manifest{}, fmt.Errorf("rumgo: restore %s: %w", man.ID, err)
		}
	}
	o.logger.InfoContext(ctx, "restore completed", "backup", man.ID, "dir", dir, "pages", man.Pages)
	return man, nil
}

// download copies a blob to a temporary file, checks it against f and
// renames it into place.
func download(ctx context.Context, store blobstore.BlobStore, fsys fs.FileSystem, name, dst string, f BackupFile) error {
	b, err := store.Open(ctx, name)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.Size() != f.Size {
		return &CorruptionError{Page: page.InvalidID, cause: fmt.Errorf("%s has %d bytes, manifest says %d", name, b.Size(), f.Size)}
	}
	r, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return err
	}
	defer r.Close()

	tmp := dst + ".restore"
	out, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	crc := hash.NewCRC32C()
	_, err = io.Copy(io.MultiWriter(out, crc), r)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && crc.Sum32() != f.CRC32C {
		err = &CorruptionError{Page: page.InvalidID, cause: fmt.Errorf("%s checksum mismatch", name)}
	}
	if err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return fsys.Rename(tmp, dst)
}
