package lwm2m

import (
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/model"
	"github.com/CANDY-LINE/lwm2m-objectproxy/internal/objectproxy"
)

// resourceValueToTLV renders a ResourceValue as a resource-level TLV record
// (OMA-TS-LightweightM2M §6.4.3), reusing model's string-based value
// encoders.
func resourceValueToTLV(v objectproxy.ResourceValue) *model.TLV {
	dataType := dataTypeOf(v.Type)
	value := model.StringToValue(v.StringValue(), dataType)
	return &model.TLV{
		IdentifierType: model.IdentifierResource,
		ID:             v.ID,
		Length:         uint32(len(value)),
		Value:          value,
	}
}

// tlvToResourceValue parses a TLV payload back into a typed ResourceValue
// using the resource's known data type.
func tlvToResourceValue(tlv *model.TLV, dataType model.DataType) objectproxy.ResourceValue {
	str := model.ValueToString(tlv.Value, dataType)
	return objectproxy.ParseResourceValue(tlv.ID, resourceTypeOf(dataType), str)
}

func dataTypeOf(t objectproxy.ResourceType) model.DataType {
	return model.DataType(t)
}

func resourceTypeOf(t model.DataType) objectproxy.ResourceType {
	return objectproxy.ResourceType(t)
}
