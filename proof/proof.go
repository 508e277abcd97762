// Copyright 2026 The probe-agent Authors
// This file is part of the probe-agent library.
//
// The probe-agent library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The probe-agent library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the probe-agent library. If not, see <http://www.gnu.org/licenses/>.

// Package proof builds the keccak256 commitments that bind a completed
// inference to the model served and the agent that served it.
package proof

import (
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// EncodedLength is the size of the verify-inference precompile input.
const EncodedLength = 5 * common.HashLength

var errInvalidAgent = errors.New("proof: invalid agent address")

// Record is the commitment to a single inference. It is a plain value and is
// never mutated after Generate returns it.
type Record struct {
	ModelHash    common.Hash
	InputHash    common.Hash
	OutputHash   common.Hash
	AgentAddress common.Address
	TokenCount   uint64
	ProofHash    common.Hash
}

type recordJSON struct {
	ModelHash    common.Hash `json:"modelHash"`
	InputHash    common.Hash `json:"inputHash"`
	OutputHash   common.Hash `json:"outputHash"`
	AgentAddress string      `json:"agentAddress"`
	TokenCount   uint64      `json:"tokenCount"`
	ProofHash    common.Hash `json:"proofHash"`
}

// MarshalJSON renders the record with 0x-prefixed hashes and the EIP-55
// checksummed agent address.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ModelHash:    r.ModelHash,
		InputHash:    r.InputHash,
		OutputHash:   r.OutputHash,
		AgentAddress: r.AgentAddress.Hex(),
		TokenCount:   r.TokenCount,
		ProofHash:    r.ProofHash,
	})
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (r *Record) UnmarshalJSON(input []byte) error {
	var dec recordJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	if !common.IsHexAddress(dec.AgentAddress) {
		return errInvalidAgent
	}
	*r = Record{
		ModelHash:    dec.ModelHash,
		InputHash:    dec.InputHash,
		OutputHash:   dec.OutputHash,
		AgentAddress: common.HexToAddress(dec.AgentAddress),
		TokenCount:   dec.TokenCount,
		ProofHash:    dec.ProofHash,
	}
	return nil
}

// Encode returns the 160 byte verify-inference input: model hash, input
// hash, output hash, the agent address left-padded to 32 bytes and the token
// count as a 32 byte big-endian integer.
func (r *Record) Encode() []byte {
	count := uint256.NewInt(r.TokenCount).Bytes32()

	enc := make([]byte, 0, EncodedLength)
	enc = append(enc, r.ModelHash[:]...)
	enc = append(enc, r.InputHash[:]...)
	enc = append(enc, r.OutputHash[:]...)
	enc = append(enc, common.LeftPadBytes(r.AgentAddress[:], common.HashLength)...)
	enc = append(enc, count[:]...)
	return enc
}

// Verify reports whether ProofHash matches the other fields.
func (r *Record) Verify() bool {
	return commit(r.ModelHash, r.InputHash, r.OutputHash, r.AgentAddress) == r.ProofHash
}

// Generator produces records for one model and one agent.
type Generator struct {
	model     string
	modelHash common.Hash
	agent     common.Address
}

// NewGenerator creates a generator and precomputes the model hash.
func NewGenerator(model string, agent common.Address) *Generator {
	g := &Generator{
		model:     model,
		modelHash: crypto.Keccak256Hash([]byte(model)),
		agent:     agent,
	}
	log.Info("Proof generator initialised", "model", model, "modelhash", g.modelHash.TerminalString(), "agent", agent)
	return g
}

// Model returns the model identifier.
func (g *Generator) Model() string { return g.model }

// ModelHash returns keccak256 of the model identifier.
func (g *Generator) ModelHash() common.Hash { return g.modelHash }

// Agent returns the address bound into every proof.
func (g *Generator) Agent() common.Address { return g.agent }

// Generate commits to an inference. Identical arguments always produce an
// identical record. The token count is carried alongside but does not enter
// the proof hash.
func (g *Generator) Generate(input, output []byte, tokens uint64) *Record {
	inHash := crypto.Keccak256Hash(input)
	outHash := crypto.Keccak256Hash(output)
	return &Record{
		ModelHash:    g.modelHash,
		InputHash:    inHash,
		OutputHash:   outHash,
		AgentAddress: g.agent,
		TokenCount:   tokens,
		ProofHash:    commit(g.modelHash, inHash, outHash, g.agent),
	}
}

func commit(model, input, output common.Hash, agent common.Address) common.Hash {
	return crypto.Keccak256Hash(model[:], input[:], output[:], common.LeftPadBytes(agent[:], common.HashLength))
}
