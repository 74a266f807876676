//go:build !unix

package ingest

import "io/fs"

func fileID(fs.FileInfo) (string, bool) {
	return "", false
}
