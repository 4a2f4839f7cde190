// Package identity derives the deterministic per-instance network identities
// handed to the emulated Steam, Epic and Photon layers.
//
// Everything here is a pure function of its inputs so sibling instances (and
// later sessions) agree on ports and ids without any shared state.
package identity

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"

	"github.com/zeebo/blake3"
)

// Port bases, one per backend. Instance i listens on base+i.
const (
	SteamPortBase  = 47584
	PhotonPortBase = 47684
	EpicPortBase   = 55789
)

// Steam64Base is the individual-account base of the Steam64 id space.
const Steam64Base uint64 = 76561197960265728

// AccountIDModulus bounds derived account ids to [1, 2^31-1].
const AccountIDModulus uint64 = 1<<31 - 1

// AccountIDVersion names the derivation implemented by AccountID. Changing the
// hash, the modulus or the offset requires bumping it, since saves remapped
// with one version will not be found by another.
const AccountIDVersion = 1

// AccountID derives a Steam account id from a profile name.
//
// Version 1: FNV-1a 64 (offset 0xcbf29ce484222325, prime 0x100000001b3) over
// the UTF-8 bytes of name, reduced mod 2^31-1, plus 1.
func AccountID(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()%AccountIDModulus + 1
}

// SteamIDPattern matches the 17-digit Steam64 ids SteamID can produce, as
// they appear embedded in save file names. Real accounts start 7656119; the
// top of the derived range crosses into 7656120.
const SteamIDPattern = `76561(?:19|20)\d{10}`

// SteamID returns the Steam64 id for a profile name.
func SteamID(name string) uint64 {
	return Steam64Base + AccountID(name)
}

// Ports returns the contiguous port block {base, ..., base+count-1}.
func Ports(base, count int) []int {
	ports := make([]int, count)
	for i := range ports {
		ports[i] = base + i
	}
	return ports
}

// Broadcast returns every port of the block except the one owned by index.
func Broadcast(base, count, index int) []int {
	out := make([]int, 0, max(count-1, 0))
	for i := 0; i < count; i++ {
		if i != index {
			out = append(out, base+i)
		}
	}
	return out
}

// Config is one instance's identity for one backend.
type Config struct {
	Index       int
	AccountName string
	ID          uint64
	Port        int
	Broadcast   []int
}

// For builds the identity of instance index in a session of count instances.
func For(base, count, index int, accountName string) Config {
	return Config{
		Index:       index,
		AccountName: accountName,
		ID:          SteamID(accountName),
		Port:        base + index,
		Broadcast:   Broadcast(base, count, index),
	}
}

// EpicAccountID returns a 40 hex digit synthetic Epic account id.
func EpicAccountID(index int) string {
	return epicHex(fmt.Sprintf("splitux:epic:account:%d", index))
}

// EpicProductUserID returns a 40 hex digit synthetic product user id.
func EpicProductUserID(index int) string {
	return epicHex(fmt.Sprintf("splitux:epic:product:%d", index))
}

func epicHex(seed string) string {
	sum := blake3.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:20])
}
