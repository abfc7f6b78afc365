// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package model

// Fingerprint is a (algorithm, hex_digest) content hash, as produced by the fingerprint package.
//
// Algorithm names are lowercase ("sha256", "md5", "sha1"); equality is structural.
type Fingerprint struct {
	Algorithm string
	HexDigest string
}

func (f Fingerprint) IsZero() bool {
	return f.Algorithm == "" && f.HexDigest == ""
}

func (f Fingerprint) String() string {
	return f.Algorithm + ":" + f.HexDigest
}

// VCSKind enumerates the version-control systems a VCSArtifact may reference.
type VCSKind string

const (
	VCSGit VCSKind = "git"
	VCSHg  VCSKind = "hg"
	VCSBzr VCSKind = "bzr"
	VCSSvn VCSKind = "svn"
)

// Artifact is the closed tagged union of the three ways a locked requirement may be realized:
// a downloadable file, a VCS snapshot, or a local project directory.
//
// The unexported marker method closes the union the way Go idiomatically expresses a sum type;
// callers are expected to exhaustively type-switch on the concrete type.
type Artifact interface {
	isArtifact()
	// Filename is the basename that would identify this artifact on disk or in a directory
	// listing. For a FileArtifact this is the recorded filename; for VCS and local-project
	// artifacts it is synthesized as "{project}-{version}.zip" by callers that need one.
	Filename() string
}

// FileArtifact is a concrete downloadable file (wheel or source archive).
type FileArtifact struct {
	URL         string
	Filename_   string
	Fingerprint Fingerprint
	IsWheel     bool
}

func (FileArtifact) isArtifact()            {}
func (a FileArtifact) Filename() string     { return a.Filename_ }

// VCSArtifact is a snapshot of a project fetched from a version-control system at a given
// reference (branch, tag, or commit).
type VCSArtifact struct {
	VCSKind     VCSKind
	URL         string
	Reference   string
	Fingerprint Fingerprint // optional; zero value if unset
}

func (VCSArtifact) isArtifact()        {}
func (a VCSArtifact) Filename() string { return "" }

// LocalProjectArtifact is a local, on-disk project directory (editable install source).
type LocalProjectArtifact struct {
	Directory   string
	Fingerprint Fingerprint // optional; zero value if unset
}

func (LocalProjectArtifact) isArtifact() {}
func (a LocalProjectArtifact) Filename() string { return "" }
