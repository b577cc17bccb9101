// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"github.com/stagemux/stagemux/pkg/bitval"
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// StdField is a field of the device standard metadata.
type StdField struct {
	Name   string
	Width  int
	Offset int
}

var stdFields = func() []StdField {
	fields := []StdField{
		{Name: "ingress_port", Width: 9},
		{Name: "packet_length", Width: 32},
		{Name: "egress_spec", Width: 9},
		{Name: "egress_port", Width: 9},
		{Name: "egress_instance", Width: 32},
		{Name: "instance_type", Width: 32},
		{Name: "clone_spec", Width: 32},
	}
	offset := 0
	for i := range fields {
		fields[i].Offset = offset
		offset += fields[i].Width
	}
	return fields
}()

// StdMetadataBits is the bit length of the standard metadata.
const StdMetadataBits = 9 + 32 + 9 + 9 + 32 + 32 + 32

// StdMetadataFields returns the standard metadata fields in layout order.
// Field i corresponds to bit 1<<i of a presence bitmap.
func StdMetadataFields() []StdField {
	return append([]StdField(nil), stdFields...)
}

// StdMetadataField returns the standard metadata field with the given name
// and its index in the layout.
func StdMetadataField(name string) (StdField, int, bool) {
	for i, f := range stdFields {
		if f.Name == name {
			return f, i, true
		}
	}
	return StdField{}, 0, false
}

// StdMetadataMask returns a mask of the given width with all bits of the
// fields selected by bitmap set.
func StdMetadataMask(bitmap uint8, bits int) (bitval.Value, error) {
	mask := bitval.New(bits)
	for i, f := range stdFields {
		if bitmap&(1<<i) == 0 {
			continue
		}
		if err := mask.Modify(bitval.Ones(f.Width), f.Offset); err != nil {
			return bitval.Value{}, serrors.WrapNoStack("building std metadata mask", err,
				"field", f.Name)
		}
	}
	return mask, nil
}
