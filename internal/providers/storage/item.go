package storage

import (
	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Data types recorded alongside stored values.
const (
	TypeString  = "String"
	TypeNumber  = "Number"
	TypeBoolean = "Boolean"
	TypeObject  = "Object"
	TypeArray   = "Array"
	TypeNull    = "Null"
)

// Item is a stored value: Data is the value itself for strings and its JSON
// encoding otherwise.
type Item struct {
	Data     string `json:"data"`
	DataType string `json:"dataType"`
}

// Encode converts a script value into an Item.
func Encode(v any) (Item, error) {
	switch val := v.(type) {
	case nil:
		return Item{Data: "null", DataType: TypeNull}, nil
	case string:
		return Item{Data: val, DataType: TypeString}, nil
	}

	data, err := sonic.MarshalString(v)
	if err != nil {
		return Item{}, errs.Wrap(errs.KindMalformedInput, "storage.Encode", err)
	}
	return Item{Data: data, DataType: dataType(v)}, nil
}

// Decode returns the value an Item was encoded from.
func (i Item) Decode() (any, error) {
	switch i.DataType {
	case TypeString:
		return i.Data, nil
	case TypeNull:
		return nil, nil
	}
	var v any
	if err := sonic.UnmarshalString(i.Data, &v); err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, "storage.Decode", err)
	}
	return v, nil
}

func dataType(v any) string {
	switch v.(type) {
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return TypeNumber
	case []any:
		return TypeArray
	}
	return TypeObject
}

// size is what an entry counts against the limit.
func size(key string, i Item) int64 {
	return int64(len(key) + len(i.Data))
}
