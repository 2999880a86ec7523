package domain

import (
	"fmt"
	"strings"
)

// SubjectKind classifies what a signal or ranking is about.
type SubjectKind string

const (
	SubjectEntity SubjectKind = "entity"
	SubjectActor  SubjectKind = "actor"
	SubjectWallet SubjectKind = "wallet"
)

// SubjectKey is the canonical "kind:id" reference signals rank under.
type SubjectKey string

func NewSubjectKey(kind SubjectKind, id string) SubjectKey {
	return SubjectKey(string(kind) + ":" + strings.ToLower(id))
}

func (k SubjectKey) Parse() (SubjectKind, string, error) {
	kind, id, ok := strings.Cut(string(k), ":")
	if !ok || kind == "" || id == "" {
		return "", "", fmt.Errorf("malformed subject key %q", string(k))
	}
	return SubjectKind(kind), id, nil
}

func (k SubjectKey) String() string { return string(k) }
