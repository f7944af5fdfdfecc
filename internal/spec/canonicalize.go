package spec

import (
	"fmt"
	"strings"

	"hashdist.dev/hashdist/internal/hash"
)

// nohashSuffix marks an environment or parameter key as exempt from
// hashing: it is still passed through to the build, but never
// influences the artifact's identity. This lets callers vary things
// like parallelism (-j4) without invalidating the cache.
const nohashSuffix = "_nohash"

// Canonicalize computes the canonical hash document and resulting
// ArtifactID for b. resolvedImports maps each import's Ref to the
// string that should enter the hash in place of its declared ID: for a
// virtual import this is the alias itself (virtual:foo), and for a
// concrete import this is the full (never short) ArtifactID string, so
// that the hash is independent of which form of ID the caller
// originally wrote down.
func Canonicalize(b *BuildSpec, resolvedImports map[string]string) (ArtifactID, error) {
	if err := b.Validate(); err != nil {
		return ArtifactID{}, err
	}
	doc, err := canonicalDocument(b, resolvedImports)
	if err != nil {
		return ArtifactID{}, err
	}
	digest := hash.Hash(doc)
	return ArtifactID{Name: b.Name, Version: effectiveVersion(b.Version), Hash: digest}, nil
}

func effectiveVersion(v string) string {
	if v == "" {
		return "n"
	}
	return v
}

func canonicalDocument(b *BuildSpec, resolvedImports map[string]string) (hash.Mapping, error) {
	sources := make([]hash.Value, len(b.Sources))
	for i, s := range b.Sources {
		sources[i] = hash.Mapping{
			"key":    s.Key,
			"target": s.Target,
			"strip":  int64(s.Strip),
		}
	}

	imports := make([]hash.Value, len(b.Build.Import))
	for i, im := range b.Build.Import {
		id, ok := resolvedImports[im.Ref]
		if !ok {
			return nil, fmt.Errorf("canonicalize %s: import %q has no resolution", b.Name, im.Ref)
		}
		imports[i] = hash.Mapping{
			"ref": im.Ref,
			"id":  id,
		}
	}

	commands := make([]hash.Value, len(b.Build.Commands))
	for i, cmd := range b.Build.Commands {
		cmdToks := make([]hash.Value, len(cmd.Cmd))
		for j, tok := range cmd.Cmd {
			cmdToks[j] = tok
		}
		env, err := stripNohashMap(cmd.Env)
		if err != nil {
			return nil, fmt.Errorf("canonicalize %s: command %d: %w", b.Name, i, err)
		}
		m := hash.Mapping{
			"cmd": cmdToks,
			"env": env,
		}
		if cmd.ToVar != "" {
			m["to_var"] = cmd.ToVar
		}
		if cmd.Cwd != "" {
			m["cwd"] = cmd.Cwd
		}
		if cmd.Inputs != "" {
			m["inputs"] = cmd.Inputs
		}
		commands[i] = m
	}

	doc := hash.Mapping{
		"name":    b.Name,
		"version": effectiveVersion(b.Version),
		"sources": sources,
		"build": hash.Mapping{
			"import":   imports,
			"commands": commands,
		},
	}
	if b.ProfileInstall != nil {
		pi, err := canonicalProfileInstall(b.ProfileInstall)
		if err != nil {
			return nil, fmt.Errorf("canonicalize %s: profile_install: %w", b.Name, err)
		}
		doc["profile_install"] = pi
	}
	if b.ImportModifyEnv != nil {
		doc["import_modify_env"] = hash.Mapping{
			"bin":     b.ImportModifyEnv.Bin,
			"include": b.ImportModifyEnv.Include,
			"lib":     b.ImportModifyEnv.Lib,
		}
	}
	return doc, nil
}

// canonicalProfileInstall builds the hash document for a profile_install
// block: link rules are hashed structurally, and the opaque parameters
// blob is hashed via [StripNohash] since its shape is not known ahead
// of time.
func canonicalProfileInstall(pi *ProfileInstall) (hash.Mapping, error) {
	links := make([]hash.Value, len(pi.Parameters.Links))
	for i, l := range pi.Parameters.Links {
		links[i] = hash.Mapping{
			"action": l.Action,
			"select": l.Select,
			"prefix": l.Prefix,
			"target": l.Target,
		}
	}
	envVars, err := stripNohashMap(pi.Parameters.EnvVars)
	if err != nil {
		return nil, err
	}
	params := make(hash.Mapping, len(pi.Parameters.Parameters))
	for k, v := range pi.Parameters.Parameters {
		if strings.HasSuffix(k, nohashSuffix) {
			continue
		}
		params[k] = StripNohash(v)
	}
	return hash.Mapping{
		"links":      links,
		"parameters": params,
		"env_vars":   envVars,
	}, nil
}

// stripNohashMap converts a string-valued env map to a canonical
// mapping, dropping any key ending in _nohash.
func stripNohashMap(m map[string]string) (hash.Mapping, error) {
	out := make(hash.Mapping, len(m))
	for k, v := range m {
		if strings.HasSuffix(k, nohashSuffix) {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// StripNohash recursively removes every key ending in _nohash from a
// dynamically typed JSON value tree (as produced by decoding a
// build spec's opaque "parameters" blob), returning a value suitable
// for hashing. The original value, including _nohash entries, is still
// what gets passed to the build or install step; only the hash input
// is pruned.
func StripNohash(v Value) hash.Value {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case float64:
		return int64(x)
	case string:
		return x
	case []any:
		out := make([]hash.Value, len(x))
		for i, e := range x {
			out[i] = StripNohash(e)
		}
		return out
	case map[string]any:
		out := make(hash.Mapping, len(x))
		for k, e := range x {
			if strings.HasSuffix(k, nohashSuffix) {
				continue
			}
			out[k] = StripNohash(e)
		}
		return out
	default:
		panic(fmt.Sprintf("spec: unsupported parameter value type %T", v))
	}
}
