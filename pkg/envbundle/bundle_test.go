package envbundle

import (
	"testing"
)

func TestNewBundleDeviceOrder(t *testing.T) {
	tests := []struct {
		name        string
		permutation []int
		want        string
	}{
		{
			name:        "identity order",
			permutation: []int{0, 1, 2, 3},
			want:        "0,1,2,3",
		},
		{
			name:        "relay-first order",
			permutation: []int{3, 0, 1, 2, 7, 4, 5, 6},
			want:        "3,0,1,2,7,4,5,6",
		},
		{
			name:        "single device",
			permutation: []int{0},
			want:        "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("/tmp/Alltoall.xml", tt.permutation)
			if b.DeviceOrder != tt.want {
				t.Errorf("DeviceOrder = %q, want %q", b.DeviceOrder, tt.want)
			}
		})
	}
}

func TestBundleEncodeDecode(t *testing.T) {
	b := New("/tmp/algos/Alltoall.xml", []int{1, 0, 3, 2})

	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got != b {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, b)
	}
}

func TestDecodeRejectsIncompleteBundle(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "missing algorithm file",
			data: `{"CUDA_VISIBLE_DEVICES":"0,1"}`,
		},
		{
			name: "missing device order",
			data: `{"MSCCL_XML_FILE":"/tmp/a.xml"}`,
		},
		{
			name: "non-numeric device order",
			data: `{"MSCCL_XML_FILE":"/tmp/a.xml","CUDA_VISIBLE_DEVICES":"0,x"}`,
		},
		{
			name: "not json",
			data: `not a document`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Error("Decode accepted an invalid bundle")
			}
		})
	}
}

func TestApplyOverwritesExistingKeys(t *testing.T) {
	env := map[string]string{
		KeyAlgorithmFile: "/stale/path.xml",
		"UNRELATED":      "kept",
	}

	b := New("/fresh/Alltoall.xml", []int{0, 1})
	err := b.Apply(func(key, value string) error {
		env[key] = value
		return nil
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if env[KeyAlgorithmFile] != "/fresh/Alltoall.xml" {
		t.Errorf("%s = %q, want overwrite", KeyAlgorithmFile, env[KeyAlgorithmFile])
	}
	if env[KeyDeviceOrder] != "0,1" {
		t.Errorf("%s = %q, want %q", KeyDeviceOrder, env[KeyDeviceOrder], "0,1")
	}
	if env["UNRELATED"] != "kept" {
		t.Error("Apply touched an unrelated variable")
	}
}
