package toolkit

import (
	"github.com/msageha/conveyor/supervisor"
)

// Generic builders for the shell work pipelines do constantly. Each returns
// a plain Command; callers own redirection and chaining.

// Gzip compresses path in place.
func (k *Kit) Gzip(path string) supervisor.Command {
	return k.Command("gzip", "-f", path)
}

// Gunzip decompresses path in place.
func (k *Kit) Gunzip(path string) supervisor.Command {
	return k.Command("gzip", "-d", "-f", path)
}

// GzipTo compresses src into dst, leaving src untouched.
func (k *Kit) GzipTo(src, dst string) supervisor.Command {
	cmd := k.Command("gzip", "-c", src)
	cmd.StdoutPath = dst
	return cmd
}

// Copy duplicates src to dst.
func (k *Kit) Copy(src, dst string) supervisor.Command {
	return k.Command("cp", src, dst)
}

// Concat appends the given files into dst.
func (k *Kit) Concat(dst string, srcs ...string) supervisor.Command {
	cmd := k.Command("cat", srcs...)
	cmd.StdoutPath = dst
	return cmd
}

// Sort orders the lines of src into dst.
func (k *Kit) Sort(src, dst string, extra ...string) supervisor.Command {
	args := append(extra, src)
	cmd := k.Command("sort", args...)
	cmd.StdoutPath = dst
	return cmd
}

// CountLines writes the line count of src to dst.
func (k *Kit) CountLines(src, dst string) supervisor.Command {
	cmd := k.Command("awk", "END{print NR}", src)
	cmd.StdoutPath = dst
	return cmd
}

// Checksum writes the SHA-256 digest of src to dst.
func (k *Kit) Checksum(src, dst string) supervisor.Command {
	cmd := k.Command("sha256sum", src)
	cmd.StdoutPath = dst
	return cmd
}
