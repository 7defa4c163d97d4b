/*
	Package archive reads and writes veneer's backup artifacts.

	An artifact is one tar archive per enabled overlay instance, gzipped,
	stored in the platform temp directory, named from a fixed prefix plus
	the instance's generated id.  Its internal layout mirrors the paths of
	the keep set relative to the overlay's rootdir.

	The read side autodetects gzip, xz, or plain tar by magic bytes, so an
	artifact an operator has hand-repacked still restores.
*/
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	. "github.com/warpfork/go-errcat"
	"github.com/xi2/xz"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/fs"
)

// Prefix is the fixed leading part of every backup artifact filename.
// Leftover detection greps the temp dir for this.
const Prefix = "veneer-backup-"

const suffix = ".tgz"

// ArtifactPath returns the canonical path for the backup artifact of the
// instance with the given id, inside the given temp directory.
func ArtifactPath(tmpDir string, id string) string {
	return filepath.Join(tmpDir, Prefix+id+suffix)
}

/*
	ListLeftovers scans a temp directory for backup artifacts matching the
	naming convention, in-process or not.

	A non-empty result before any enable call means a previous run died
	mid-overlay and the filesystem is in an unknown state.  Callers must
	treat that as fatal: silently deleting or ignoring a stale backup
	risks permanent data loss, so this function only ever *reports*.
*/
func ListLeftovers(tmpDir string) ([]string, error) {
	f, err := os.Open(tmpDir)
	if err != nil {
		return nil, Recategorize(veneer.ErrIO, err)
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, Recategorize(veneer.ErrIO, err)
	}
	var found []string
	for _, name := range names {
		if strings.HasPrefix(name, Prefix) {
			found = append(found, filepath.Join(tmpDir, name))
		}
	}
	sort.Strings(found)
	return found, nil
}

// Mutate tar.Header fields to match the given fmeta.
func MetadataToTarHdr(fmeta *fs.Metadata, hdr *tar.Header) {
	hdr.Name = fmeta.Name.SimpleString()
	if fmeta.Type == fs.Type_Dir {
		hdr.Name += "/"
	}
	hdr.Typeflag = fsTypeToTarType(fmeta.Type)
	hdr.Mode = int64(fmeta.Perms)
	hdr.Uid = int(fmeta.Uid)
	hdr.Gid = int(fmeta.Gid)
	hdr.Size = fmeta.Size
	hdr.Linkname = fmeta.Linkname
	hdr.ModTime = fmeta.Mtime
	hdr.AccessTime = fmeta.Atime
	hdr.Format = tar.FormatPAX // PAX carries atime and subsecond times.
}

func fsTypeToTarType(fsType fs.Type) byte {
	switch fsType {
	case fs.Type_File:
		return tar.TypeReg
	case fs.Type_Symlink:
		return tar.TypeSymlink
	case fs.Type_Dir:
		return tar.TypeDir
	case fs.Type_NamedPipe:
		return tar.TypeFifo
	default:
		panic("unpackable fs.Type")
	}
}

// Mutate fs.Metadata fields to match the given tar header.
// Does not check for names that go above '.'; caller may want to do that.
func TarHdrToMetadata(hdr *tar.Header, fmeta *fs.Metadata) error {
	fmeta.Name = fs.MustRelPath(hdr.Name)
	fmeta.Type = tarTypeToFsType(hdr.Typeflag)
	if fmeta.Type == fs.Type_Invalid {
		return Errorf(veneer.ErrCorrupt, "corrupt backup: %q is not a known file type", hdr.Typeflag)
	}
	fmeta.Perms = fs.Perms(hdr.Mode & 07777)
	fmeta.Uid = uint32(hdr.Uid)
	fmeta.Gid = uint32(hdr.Gid)
	fmeta.Size = hdr.Size
	fmeta.Linkname = hdr.Linkname
	fmeta.Mtime = hdr.ModTime
	fmeta.Atime = hdr.AccessTime
	return nil
}

func tarTypeToFsType(tarType byte) fs.Type {
	switch tarType {
	case tar.TypeReg, tar.TypeRegA:
		return fs.Type_File
	case tar.TypeSymlink:
		return fs.Type_Symlink
	case tar.TypeDir:
		return fs.Type_Dir
	case tar.TypeFifo:
		return fs.Type_NamedPipe
	default:
		return fs.Type_Invalid
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

/*
	Wrap a reader with decompression, autodetected by magic bytes.
	Unrecognized leading bytes are assumed to be plain uncompressed tar
	(the tar magic sits too deep in the header to be worth sniffing).
*/
func Decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(peek, gzipMagic):
		return gzip.NewReader(br)
	case bytes.HasPrefix(peek, xzMagic):
		return xz.NewReader(br, 0)
	default:
		return br, nil
	}
}
