// Package model holds the OMA LWM2M object/resource definition model (the
// XML object registry every Security/Server/generic object is validated
// against) and the TLV wire codec used for Register/Read/Write/Notify
// payloads.
//
// Grounded on _examples/1stship-inventoryd/lwm2m_resource.go and
// lwm2m_tlv.go.
package model

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Well-known object and resource ids needed at registration/bootstrap time.
const (
	ObjectIDSecurity uint16 = 0
	ObjectIDServer   uint16 = 1
	ObjectIDDevice   uint16 = 3

	ResourceIDSecurityURI           uint16 = 0
	ResourceIDSecurityBootstrap     uint16 = 1
	ResourceIDSecurityIdentity      uint16 = 3
	ResourceIDSecuritySecretKey     uint16 = 5
	ResourceIDSecurityShortServerID uint16 = 10
	ResourceIDServerShortServerID   uint16 = 0
	ResourceIDServerLifetime        uint16 = 1
)

// DataType is the OMA-TS-LightweightM2M Appendix C data type tag.
type DataType byte

const (
	DataTypeString  DataType = 0
	DataTypeInteger DataType = 1
	DataTypeFloat   DataType = 2
	DataTypeBoolean DataType = 3
	DataTypeOpaque  DataType = 4
	DataTypeTime    DataType = 5
	DataTypeObjlnk  DataType = 6
	DataTypeNone    DataType = 7
)

// ObjectDefinition is one <Object> entry of an LWM2M object registry file.
type ObjectDefinition struct {
	ID        uint16
	Name      string
	Multi     bool
	Mandatory bool
	Resources []*ResourceDefinition
}

// ResourceDefinition is one <Item> entry within an ObjectDefinition.
type ResourceDefinition struct {
	ID         uint16
	Name       string
	Multi      bool
	Mandatory  bool
	Readable   bool
	Writable   bool
	Executable bool
	Type       DataType
}

// Registry is a set of object definitions indexed by object id.
type Registry []*ObjectDefinition

// FindObject returns the definition for objectID, or nil.
func (r Registry) FindObject(objectID uint16) *ObjectDefinition {
	for _, obj := range r {
		if obj.ID == objectID {
			return obj
		}
	}
	return nil
}

// FindResource returns the resource definition for (objectID, resourceID),
// or nil if either the object or the resource is unknown.
func (r Registry) FindResource(objectID, resourceID uint16) *ResourceDefinition {
	obj := r.FindObject(objectID)
	if obj == nil {
		return nil
	}
	return obj.findResource(resourceID)
}

func (o *ObjectDefinition) findResource(resourceID uint16) *ResourceDefinition {
	for _, res := range o.Resources {
		if res.ID == resourceID {
			return res
		}
	}
	return nil
}

type definitionXML struct {
	XMLName xml.Name          `xml:"LWM2M"`
	Object  *objectXML        `xml:"Object"`
}

type objectXML struct {
	Name      string           `xml:"Name"`
	ID        string           `xml:"ObjectID"`
	Multi     string           `xml:"MultipleInstances"`
	Mandatory string           `xml:"Mandatory"`
	Resources []*resourceXML   `xml:"Resources>Item"`
}

type resourceXML struct {
	ID         string `xml:"ID,attr"`
	Name       string `xml:"Name"`
	Operations string `xml:"Operations"`
	Multi      string `xml:"MultipleInstances"`
	Mandatory  string `xml:"Mandatory"`
	Type       string `xml:"Type"`
}

// LoadRegistry reads every *.xml object-definition file under modelsPath and
// returns a Registry sorted by object id. A file that fails to parse into a
// valid definition is skipped rather than aborting the whole load.
func LoadRegistry(modelsPath string) (Registry, error) {
	entries, err := os.ReadDir(modelsPath)
	if err != nil {
		return nil, err
	}

	registry := make(Registry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".xml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(modelsPath, entry.Name()))
		if err != nil {
			return nil, err
		}
		var doc definitionXML
		if err := xml.Unmarshal(data, &doc); err != nil {
			continue
		}
		if def := objectDefinitionFromXML(doc.Object); def != nil {
			registry = append(registry, def)
		}
	}
	sort.Slice(registry, func(i, j int) bool { return registry[i].ID < registry[j].ID })
	return registry, nil
}

func objectDefinitionFromXML(x *objectXML) *ObjectDefinition {
	if x == nil {
		return nil
	}
	id, err := strconv.Atoi(x.ID)
	if err != nil {
		return nil
	}

	multi, ok := parseCardinality(x.Multi)
	if !ok {
		return nil
	}
	mandatory, ok := parseMandatory(x.Mandatory)
	if !ok {
		return nil
	}

	def := &ObjectDefinition{
		ID:        uint16(id),
		Name:      x.Name,
		Multi:     multi,
		Mandatory: mandatory,
	}
	for _, r := range x.Resources {
		if rd := resourceDefinitionFromXML(r); rd != nil {
			def.Resources = append(def.Resources, rd)
		}
	}
	return def
}

func resourceDefinitionFromXML(x *resourceXML) *ResourceDefinition {
	id, err := strconv.Atoi(x.ID)
	if err != nil {
		return nil
	}
	multi, ok := parseCardinality(x.Multi)
	if !ok {
		return nil
	}
	mandatory, ok := parseMandatory(x.Mandatory)
	if !ok {
		return nil
	}

	return &ResourceDefinition{
		ID:         uint16(id),
		Name:       x.Name,
		Multi:      multi,
		Mandatory:  mandatory,
		Readable:   strings.Contains(x.Operations, "R"),
		Writable:   strings.Contains(x.Operations, "W"),
		Executable: strings.Contains(x.Operations, "E"),
		Type:       dataTypeFromXML(x.Type),
	}
}

func parseCardinality(s string) (bool, bool) {
	switch s {
	case "Multiple":
		return true, true
	case "Single":
		return false, true
	default:
		return false, false
	}
}

func parseMandatory(s string) (bool, bool) {
	switch s {
	case "Mandatory":
		return true, true
	case "Optional":
		return false, true
	default:
		return false, false
	}
}

func dataTypeFromXML(s string) DataType {
	switch s {
	case "String":
		return DataTypeString
	case "Integer":
		return DataTypeInteger
	case "Float":
		return DataTypeFloat
	case "Boolean":
		return DataTypeBoolean
	case "Opaque":
		return DataTypeOpaque
	case "Time":
		return DataTypeTime
	case "Objlnk":
		return DataTypeObjlnk
	default:
		return DataTypeNone
	}
}
