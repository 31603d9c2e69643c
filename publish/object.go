package publish

import (
	"crypto/md5"
	"encoding/hex"
	"mime"
	"path"
	"strings"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/output"
	"github.com/QBayLogic/qbaymid/postprocess"
)

// Object is a file as it is stored in the bucket.
type Object struct {
	Key             string
	Body            []byte
	MD5             string // Hex MD5 of Body, equal to the ETag of a single part upload
	ContentType     string
	ContentEncoding string
	CacheControl    string
}

// LocalObjects returns the objects for a built set, sorted by key. Compressed
// copies made by the gzip step are not uploaded on their own; with preferGzip
// they replace the body of the file they were made from.
func LocalObjects(set *output.Set, policy config.CachePolicy, preferGzip bool, prefix string) []Object {
	prefix = strings.Trim(prefix, "/")
	var objs []Object
	for _, name := range set.Paths() {
		if orig, ok := strings.CutSuffix(name, postprocess.GzipExt); ok && set.Has(orig) {
			continue
		}
		body, _ := set.Get(name)
		obj := Object{
			Key:          path.Join(prefix, name),
			ContentType:  ContentType(name),
			CacheControl: policy.CacheControl(name),
		}
		if z, ok := set.Get(name + postprocess.GzipExt); ok && preferGzip {
			body = z
			obj.ContentEncoding = "gzip"
		}
		obj.Body = body
		obj.MD5 = md5Hex(body)
		objs = append(objs, obj)
	}
	return objs
}

// ContentType returns the media type for a file name.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
