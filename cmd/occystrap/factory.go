package main

import (
	"fmt"

	"github.com/shakenfist/occystrap/internal/archive"
	"github.com/shakenfist/occystrap/internal/auth"
	"github.com/shakenfist/occystrap/internal/config"
	"github.com/shakenfist/occystrap/internal/uri"
	"github.com/shakenfist/occystrap/pipeline"
	"github.com/shakenfist/occystrap/sink/daemon"
	"github.com/shakenfist/occystrap/sink/directory"
	"github.com/shakenfist/occystrap/sink/registry"
	"github.com/shakenfist/occystrap/sink/tarball"
	srcdaemon "github.com/shakenfist/occystrap/source/daemon"
	srcregistry "github.com/shakenfist/occystrap/source/registry"
	srctarball "github.com/shakenfist/occystrap/source/tarball"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/ref"
)

// buildSource resolves raw into a pipeline.Source, per spec.md §6's six
// URI grammars.
func buildSource(raw string) (pipeline.Source, error) {
	r, o, err := uri.Parse(raw)
	if err != nil {
		return nil, err
	}
	applyGlobalFlags(&o)
	applyPlatformFlags(&r)

	switch r.Scheme {
	case ref.SchemeRegistry:
		creds := registryCreds(o.Username, o.Password)
		opts := []srcregistry.Opt{srcregistry.WithLog(log)}
		if o.MaxWorkers > 0 {
			opts = append(opts, srcregistry.WithParallel(o.MaxWorkers))
		}
		return srcregistry.New(r, creds, o.Insecure, opts...), nil
	case ref.SchemeDocker:
		return srcdaemon.New(r.Repository+":"+r.Tag, o.Socket), nil
	case ref.SchemeTar:
		return srctarball.New(r.Path), nil
	default:
		return nil, fmt.Errorf("occystrap: %q is not a readable source scheme", r.Scheme)
	}
}

// buildSink resolves raw into a pipeline Sink (element.Consumer), per
// spec.md §6's six URI grammars.
func buildSink(raw string) (element.Consumer, error) {
	r, o, err := uri.Parse(raw)
	if err != nil {
		return nil, err
	}
	applyGlobalFlags(&o)

	switch r.Scheme {
	case ref.SchemeRegistry:
		creds := registryCreds(o.Username, o.Password)
		ct, err := compressionFromOpt(o.Compression)
		if err != nil {
			return nil, err
		}
		opts := []registry.Opt{registry.WithLog(log), registry.WithCompression(ct)}
		if o.MaxWorkers > 0 {
			opts = append(opts, registry.WithParallel(o.MaxWorkers))
		}
		return registry.New(r, creds, o.Insecure, opts...), nil
	case ref.SchemeDocker:
		var opts []daemon.Opt
		if r.Tag != "" {
			opts = append(opts, daemon.WithRepoTags(r.Repository+":"+r.Tag))
		}
		return daemon.New(o.Socket, opts...), nil
	case ref.SchemeTar:
		var opts []tarball.Opt
		if r.Tag != "" {
			opts = append(opts, tarball.WithRepoTags(r.Repository+":"+r.Tag))
		}
		return tarball.New(r.Path, opts...), nil
	case ref.SchemeDir:
		return buildDirectorySink(r, o, directory.ModePlain)
	case ref.SchemeOCI:
		return buildDirectorySink(r, o, directory.ModeBundle)
	case ref.SchemeMounts:
		return buildDirectorySink(r, o, directory.ModeMounts)
	default:
		return nil, fmt.Errorf("occystrap: %q is not a writable destination scheme", r.Scheme)
	}
}

func buildDirectorySink(r ref.Ref, o uri.Options, mode directory.Mode) (element.Consumer, error) {
	if mode == directory.ModePlain && o.Expand {
		mode = directory.ModeExpand
	}
	var opts []directory.Opt
	if o.UniqueNames {
		opts = append(opts, directory.WithUniqueNames())
	}
	if r.Repository != "" || r.Tag != "" {
		opts = append(opts, directory.WithImageRef(r.Repository, r.Tag))
	}
	return directory.New(r.Path, mode, opts...), nil
}

// registryCreds prefers explicit username/password (from flags, env, or
// the URI's own userinfo); when neither is set it falls back to
// ~/.docker/config.json per host, matching the teacher's Docker-config
// credential precedence.
func registryCreds(username, password string) auth.CredsFn {
	if username != "" || password != "" {
		return auth.StaticCreds(username, password)
	}
	return func(host string) auth.Cred {
		user, pass, err := config.DockerCreds(host)
		if err != nil {
			return auth.Cred{}
		}
		return auth.Cred{User: user, Password: pass}
	}
}

func compressionFromOpt(s string) (archive.CompressType, error) {
	switch s {
	case "", "gzip":
		return archive.CompressGzip, nil
	case "zstd":
		return archive.CompressZstd, nil
	default:
		return archive.CompressNone, fmt.Errorf("occystrap: unsupported compression %q", s)
	}
}
