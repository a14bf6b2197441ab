package testkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrNoSuchKey    = errors.New("no such key")
)

// Principal identifies a caller against the origin bucket policy. The zero
// value is the anonymous caller.
type Principal struct {
	// AccountID marks the bucket owner's own credentials when it matches
	// the store's owner.
	AccountID string

	// Service is a service principal such as "cloudfront.amazonaws.com";
	// SourceArn and SourceAccount are the request attributes the policy
	// conditions match against.
	Service       string
	SourceArn     string
	SourceAccount string
}

// Anonymous is the unauthenticated caller.
func Anonymous() Principal { return Principal{} }

// Owner is the bucket-owning account's caller.
func Owner(accountID string) Principal { return Principal{AccountID: accountID} }

// OriginStore is an in-memory object store that enforces the origin bucket's
// resource policy: the owner reads and writes freely, everyone else gets
// exactly what the policy grants. It evaluates the single-statement policies
// this module generates.
type OriginStore struct {
	mu      sync.RWMutex
	bucket  string
	owner   string
	policy  *bucketPolicy
	objects map[string][]byte
}

func NewOriginStore(bucket, ownerAccountID string) *OriginStore {
	return &OriginStore{
		bucket:  bucket,
		owner:   ownerAccountID,
		objects: make(map[string][]byte),
	}
}

// SetPolicy installs the bucket policy document. An empty document clears it.
func (s *OriginStore) SetPolicy(policyJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(policyJSON) == "" {
		s.policy = nil
		return nil
	}

	var policy bucketPolicy
	if err := json.Unmarshal([]byte(policyJSON), &policy); err != nil {
		return fmt.Errorf("parse bucket policy: %w", err)
	}
	s.policy = &policy
	return nil
}

// Put stores an object. Only the owner may write; the policy grants reads
// alone.
func (s *OriginStore) Put(p Principal, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(p) {
		return fmt.Errorf("write %s/%s: %w", s.bucket, key, ErrAccessDenied)
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the object if the caller is the owner or the policy
// allows the read.
func (s *OriginStore) Get(p Principal, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isOwner(p) && !s.policyAllowsRead(p, key) {
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, key, ErrAccessDenied)
	}

	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, key, ErrNoSuchKey)
	}
	return append([]byte(nil), data...), nil
}

func (s *OriginStore) isOwner(p Principal) bool {
	return s.owner != "" && p.AccountID == s.owner
}

func (s *OriginStore) policyAllowsRead(p Principal, key string) bool {
	if s.policy == nil {
		return false
	}
	objectARN := "arn:aws:s3:::" + s.bucket + "/" + key

	for _, statement := range s.policy.Statement {
		if statement.Effect != "Allow" {
			continue
		}
		if statement.Action != "s3:GetObject" {
			continue
		}
		if !resourceMatches(statement.Resource, objectARN) {
			continue
		}
		if statement.Principal.Service == "" || statement.Principal.Service != p.Service {
			continue
		}
		if conditionHolds(statement.Condition, p) {
			return true
		}
	}
	return false
}

func resourceMatches(pattern, objectARN string) bool {
	if suffix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(objectARN, suffix)
	}
	return pattern == objectARN
}

// conditionHolds requires every StringEquals entry to match the caller's
// request attributes. A statement without conditions holds unconditionally.
func conditionHolds(condition map[string]map[string]string, p Principal) bool {
	for key, want := range condition["StringEquals"] {
		var got string
		switch key {
		case "AWS:SourceArn":
			got = p.SourceArn
		case "AWS:SourceAccount":
			got = p.SourceAccount
		default:
			return false
		}
		if got == "" || got != want {
			return false
		}
	}
	return true
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string                       `json:"Sid"`
	Effect    string                       `json:"Effect"`
	Principal policyPrincipal              `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition"`
}

type policyPrincipal struct {
	Service string `json:"Service"`
}
