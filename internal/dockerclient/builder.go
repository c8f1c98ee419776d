package dockerclient

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	sdkimage "github.com/docker/go-sdk/image"
)

type ImageBuilder interface {
	BuildImage(ctx context.Context, opts BuildRequest) (string, error)
}

// BuildRequest describes one image build. Include lists the project-relative
// paths shipped in the build context next to the rendered Dockerfile; the
// final stage's COPY of the application payload resolves against them.
type BuildRequest struct {
	Dockerfile string
	ContextDir string
	Include    []string
	Tag        string
}

func (dc *dockerClient) BuildImage(ctx context.Context, opts BuildRequest) (string, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	df := []byte(opts.Dockerfile)
	if err := tw.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0o600,
		Size: int64(len(df)),
	}); err != nil {
		return "", fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(df); err != nil {
		return "", fmt.Errorf("write dockerfile: %w", err)
	}

	for _, rel := range opts.Include {
		if err := tarPath(tw, opts.ContextDir, rel); err != nil {
			return "", fmt.Errorf("pack %s: %w", rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("close tar: %w", err)
	}

	buildTag, err := sdkimage.Build(
		ctx,
		&buf,
		opts.Tag,
		sdkimage.WithBuildClient(dc.client),
		sdkimage.WithBuildOptions(build.ImageBuildOptions{
			Dockerfile: "Dockerfile",
			Remove:     true, // remove intermediate containers
		}),
	)
	if err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}

	return buildTag, nil
}

// tarPath adds a file or directory tree under root to the archive, keeping
// project-relative names. Bytecode caches and VCS metadata stay out so the
// payload matches what the build-context hash covered.
func tarPath(tw *tar.Writer, root, rel string) error {
	abs := filepath.Join(root, rel)

	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name = filepath.ToSlash(name)

		if d.IsDir() {
			if skipContextDir(d.Name()) && name != rel {
				return filepath.SkipDir
			}
			hdr := &tar.Header{
				Name:     name + "/",
				Mode:     0o755,
				Typeflag: tar.TypeDir,
			}
			return tw.WriteHeader(hdr)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func skipContextDir(name string) bool {
	return name == "__pycache__" || name == ".git"
}
