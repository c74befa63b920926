package fhir

import "time"

// CapabilityOperation names one operation the server implements.
type CapabilityOperation struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// CapabilityResource describes one resource type in the CapabilityStatement.
type CapabilityResource struct {
	Type        string                `json:"type"`
	Interaction []map[string]string   `json:"interaction,omitempty"`
	Operation   []CapabilityOperation `json:"operation,omitempty"`
}

// CapabilityRest is the rest element of the CapabilityStatement.
type CapabilityRest struct {
	Mode     string               `json:"mode"`
	Resource []CapabilityResource `json:"resource,omitempty"`
}

// CapabilityStatement is the FHIR R4 conformance resource served at
// /fhir/metadata.
type CapabilityStatement struct {
	ResourceType string           `json:"resourceType"`
	Status       string           `json:"status"`
	Date         string           `json:"date"`
	Publisher    string           `json:"publisher"`
	Kind         string           `json:"kind"`
	FHIRVersion  string           `json:"fhirVersion"`
	Format       []string         `json:"format"`
	Software     map[string]string `json:"software"`
	Rest         []CapabilityRest `json:"rest"`
}

// NewCapabilityStatement builds the server's CapabilityStatement advertising
// the three terminology operations.
func NewCapabilityStatement(serverName, version string) *CapabilityStatement {
	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format(time.RFC3339),
		Publisher:    "Ministry of Ayush",
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"application/fhir+json", "application/json"},
		Software: map[string]string{
			"name":    serverName,
			"version": version,
		},
		Rest: []CapabilityRest{
			{
				Mode: "server",
				Resource: []CapabilityResource{
					{
						Type:        "CodeSystem",
						Interaction: []map[string]string{{"code": "read"}, {"code": "search-type"}},
						Operation: []CapabilityOperation{
							{Name: "lookup", Definition: "http://hl7.org/fhir/OperationDefinition/CodeSystem-lookup"},
						},
					},
					{
						Type: "ValueSet",
						Operation: []CapabilityOperation{
							{Name: "expand", Definition: "http://hl7.org/fhir/OperationDefinition/ValueSet-expand"},
						},
					},
					{
						Type: "ConceptMap",
						Operation: []CapabilityOperation{
							{Name: "translate", Definition: "http://hl7.org/fhir/OperationDefinition/ConceptMap-translate"},
						},
					},
				},
			},
		},
	}
}
