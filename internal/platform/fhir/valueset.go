package fhir

import "time"

// ValueSetContains is one concept in a ValueSet expansion.
type ValueSetContains struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

// ValueSetExpansion is the expansion element of a ValueSet.
type ValueSetExpansion struct {
	Identifier string             `json:"identifier,omitempty"`
	Timestamp  string             `json:"timestamp"`
	Total      int                `json:"total"`
	Offset     int                `json:"offset"`
	Contains   []ValueSetContains `json:"contains,omitempty"`
}

// ValueSet is the FHIR ValueSet resource returned by $expand.
type ValueSet struct {
	ResourceType string             `json:"resourceType"`
	URL          string             `json:"url,omitempty"`
	Status       string             `json:"status"`
	Expansion    *ValueSetExpansion `json:"expansion,omitempty"`
}

// NewValueSetExpansion builds an expanded ValueSet stamped with the current
// time.
func NewValueSetExpansion(url string, total, offset int, contains []ValueSetContains) *ValueSet {
	return &ValueSet{
		ResourceType: "ValueSet",
		URL:          url,
		Status:       "active",
		Expansion: &ValueSetExpansion{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Total:     total,
			Offset:    offset,
			Contains:  contains,
		},
	}
}

// CodeSystem is the FHIR CodeSystem resource metadata served under
// /fhir/CodeSystem. Concepts are not inlined; content=not-present points
// clients at $lookup.
type CodeSystem struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	URL          string `json:"url"`
	Name         string `json:"name"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Content      string `json:"content"`
	Publisher    string `json:"publisher,omitempty"`
	Description  string `json:"description,omitempty"`
	Count        int    `json:"count,omitempty"`
}

// Bundle is a minimal searchset Bundle for listing resources.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        int           `json:"total"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry wraps one resource in a Bundle.
type BundleEntry struct {
	Resource interface{} `json:"resource"`
}

// NewSearchSet builds a searchset Bundle over the given resources.
func NewSearchSet(resources ...interface{}) *Bundle {
	entries := make([]BundleEntry, 0, len(resources))
	for _, r := range resources {
		entries = append(entries, BundleEntry{Resource: r})
	}
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        len(entries),
		Entry:        entries,
	}
}
