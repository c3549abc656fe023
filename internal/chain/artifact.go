package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	methodAddPet  = "addPet"
	eventPetAdded = "PetAdded"
)

// Artifact is the subset of a Truffle build artifact the backend reads.
type Artifact struct {
	ContractName string                     `json:"contractName"`
	ABI          json.RawMessage            `json:"abi"`
	Networks     map[string]ArtifactNetwork `json:"networks"`
}

type ArtifactNetwork struct {
	Address string `json:"address"`
}

// LoadArtifact reads the artifact and parses its ABI. The ABI must expose
// addPet and the PetAdded event.
func LoadArtifact(path string) (*Artifact, abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, abi.ABI{}, fmt.Errorf("read contract artifact %q: %w", path, err)
	}
	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, abi.ABI{}, fmt.Errorf("decode contract artifact %q: %w", path, err)
	}
	if len(artifact.ABI) == 0 {
		return nil, abi.ABI{}, fmt.Errorf("contract artifact %q has no abi", path)
	}

	parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
	if err != nil {
		return nil, abi.ABI{}, fmt.Errorf("parse contract abi: %w", err)
	}
	if _, ok := parsed.Methods[methodAddPet]; !ok {
		return nil, abi.ABI{}, fmt.Errorf("contract abi is missing %s", methodAddPet)
	}
	if _, ok := parsed.Events[eventPetAdded]; !ok {
		return nil, abi.ABI{}, fmt.Errorf("contract abi is missing event %s", eventPetAdded)
	}
	return &artifact, parsed, nil
}

// ResolveAddress prefers an explicitly configured address and falls back to
// the deployment recorded for networkID.
func (a *Artifact) ResolveAddress(configured, networkID string) (common.Address, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		if !common.IsHexAddress(configured) {
			return common.Address{}, fmt.Errorf("invalid contract address %q", configured)
		}
		return common.HexToAddress(configured), nil
	}
	network, ok := a.Networks[networkID]
	if !ok || !common.IsHexAddress(network.Address) {
		return common.Address{}, fmt.Errorf("contract %s is not deployed on network %s", a.ContractName, networkID)
	}
	return common.HexToAddress(network.Address), nil
}
