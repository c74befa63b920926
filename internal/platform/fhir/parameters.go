package fhir

// Coding is a FHIR Coding datatype.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Parameter is one entry of a Parameters resource. Only the value[x]
// variants the terminology operations emit are modelled.
type Parameter struct {
	Name         string      `json:"name"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueUri     string      `json:"valueUri,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueDecimal *float64    `json:"valueDecimal,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

// Parameters is the FHIR Parameters resource used as both operation input
// and output.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter,omitempty"`
}

// NewParameters starts an empty Parameters resource.
func NewParameters() *Parameters {
	return &Parameters{ResourceType: "Parameters"}
}

func (p *Parameters) add(param Parameter) *Parameters {
	p.Parameter = append(p.Parameter, param)
	return p
}

// AddString appends a valueString parameter.
func (p *Parameters) AddString(name, value string) *Parameters {
	return p.add(Parameter{Name: name, ValueString: value})
}

// AddCode appends a valueCode parameter.
func (p *Parameters) AddCode(name, value string) *Parameters {
	return p.add(Parameter{Name: name, ValueCode: value})
}

// AddURI appends a valueUri parameter.
func (p *Parameters) AddURI(name, value string) *Parameters {
	return p.add(Parameter{Name: name, ValueUri: value})
}

// AddBoolean appends a valueBoolean parameter.
func (p *Parameters) AddBoolean(name string, value bool) *Parameters {
	return p.add(Parameter{Name: name, ValueBoolean: &value})
}

// AddDecimal appends a valueDecimal parameter.
func (p *Parameters) AddDecimal(name string, value float64) *Parameters {
	return p.add(Parameter{Name: name, ValueDecimal: &value})
}

// AddCoding appends a valueCoding parameter.
func (p *Parameters) AddCoding(name string, coding Coding) *Parameters {
	return p.add(Parameter{Name: name, ValueCoding: &coding})
}

// AddPart appends a parameter composed of nested parts.
func (p *Parameters) AddPart(name string, parts ...Parameter) *Parameters {
	return p.add(Parameter{Name: name, Part: parts})
}

// Find returns the first parameter with the given name, or nil.
func (p *Parameters) Find(name string) *Parameter {
	for i := range p.Parameter {
		if p.Parameter[i].Name == name {
			return &p.Parameter[i]
		}
	}
	return nil
}

// StringValue returns the textual value of the named parameter, accepting
// valueString, valueCode and valueUri interchangeably as clients commonly
// mix them. Empty when absent.
func (p *Parameters) StringValue(name string) string {
	param := p.Find(name)
	if param == nil {
		return ""
	}
	switch {
	case param.ValueString != "":
		return param.ValueString
	case param.ValueCode != "":
		return param.ValueCode
	case param.ValueUri != "":
		return param.ValueUri
	}
	return ""
}

// CodingValue returns the Coding of the named parameter, or nil.
func (p *Parameters) CodingValue(name string) *Coding {
	param := p.Find(name)
	if param == nil {
		return nil
	}
	return param.ValueCoding
}

// StringPart appends a valueString part for building nested matches.
func StringPart(name, value string) Parameter {
	return Parameter{Name: name, ValueString: value}
}

// CodePart appends a valueCode part.
func CodePart(name, value string) Parameter {
	return Parameter{Name: name, ValueCode: value}
}

// CodingPart appends a valueCoding part.
func CodingPart(name string, coding Coding) Parameter {
	return Parameter{Name: name, ValueCoding: &coding}
}

// DecimalPart appends a valueDecimal part.
func DecimalPart(name string, value float64) Parameter {
	v := value
	return Parameter{Name: name, ValueDecimal: &v}
}
