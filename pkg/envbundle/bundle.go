// Package envbundle defines the fixed-contract configuration bundle that
// autosynth distributes to every process of a job, and the adapter that
// applies it to the real process environment.
//
// The bundle keys form an interchange contract with the consuming collective
// runtime; producers and consumers must agree on them without negotiation.
package envbundle

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Environment variable names consumed by the collective runtime. These are a
// fixed contract; changing them breaks every consumer.
const (
	// KeyAlgorithmFile is the path of the lowered algorithm artifact.
	KeyAlgorithmFile = "MSCCL_XML_FILE"

	// KeyDeviceOrder is the device-visibility ordering applied to each
	// process, rendered as comma-joined device indices.
	KeyDeviceOrder = "CUDA_VISIBLE_DEVICES"
)

// Bundle is the immutable configuration produced once by the coordinator and
// copied, never shared, into every process environment.
type Bundle struct {
	AlgorithmFile string `json:"MSCCL_XML_FILE" validate:"required"`
	DeviceOrder   string `json:"CUDA_VISIBLE_DEVICES" validate:"required"`
}

// New builds a bundle from an artifact path and a local rank permutation.
func New(algorithmFile string, permutation []int) Bundle {
	return Bundle{
		AlgorithmFile: algorithmFile,
		DeviceOrder:   joinDeviceOrder(permutation),
	}
}

// joinDeviceOrder renders a permutation as the comma-joined ordering string
// understood by the runtime.
func joinDeviceOrder(permutation []int) string {
	parts := make([]string, len(permutation))
	for i, rank := range permutation {
		parts[i] = strconv.Itoa(rank)
	}
	return strings.Join(parts, ",")
}

// Validate checks that the bundle satisfies the interchange contract.
func (b Bundle) Validate() error {
	if err := validator.New().Struct(b); err != nil {
		return fmt.Errorf("invalid environment bundle: %w", err)
	}
	for _, part := range strings.Split(b.DeviceOrder, ",") {
		if _, err := strconv.Atoi(part); err != nil {
			return fmt.Errorf("invalid device order %q: %w", b.DeviceOrder, err)
		}
	}
	return nil
}

// Environ returns the bundle as a flat key-value mapping.
func (b Bundle) Environ() map[string]string {
	return map[string]string{
		KeyAlgorithmFile: b.AlgorithmFile,
		KeyDeviceOrder:   b.DeviceOrder,
	}
}

// Encode serializes the bundle as the flat JSON document written to the lock
// file and broadcast between ranks.
func (b Bundle) Encode() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode environment bundle: %w", err)
	}
	return data, nil
}

// Decode parses a bundle from its JSON encoding and validates the contract.
func Decode(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("failed to decode environment bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Apply merges the bundle into an environment through setenv. Bundle keys
// overwrite any pre-existing variable of the same name.
func (b Bundle) Apply(setenv func(key, value string) error) error {
	for key, value := range b.Environ() {
		if err := setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// ApplyOS merges the bundle into the real process environment.
func (b Bundle) ApplyOS() error {
	return b.Apply(os.Setenv)
}
