package chaincfg

import (
	"testing"
)

func TestUroParams(t *testing.T) {
	params := MainNetParams

	// 1. Verify network magic
	if params.Net != 0xdeb9c3fe {
		t.Errorf("Net is %#x, want 0xdeb9c3fe", params.Net)
	}

	// 2. Verify default port
	if params.DefaultPort != "36348" {
		t.Errorf("DefaultPort is %s, want 36348", params.DefaultPort)
	}

	// 3. Verify protocol versions
	if params.ProtocolVersion != 70013 {
		t.Errorf("ProtocolVersion is %d, want 70013", params.ProtocolVersion)
	}
	if params.MinProtocolVersion != 70012 {
		t.Errorf("MinProtocolVersion is %d, want 70012", params.MinProtocolVersion)
	}

	// 4. Verify address version
	if params.AddressVersion != 68 {
		t.Errorf("AddressVersion is %d, want 68", params.AddressVersion)
	}

	// 5. Verify Network Name
	if params.Name != "mainnet" {
		t.Errorf("Name is %s, want mainnet", params.Name)
	}
}

func TestGenesisBlock(t *testing.T) {
	if MainNetParams.GenesisBlock == nil || MainNetParams.GenesisHash == nil {
		t.Fatalf("genesis block not registered")
	}

	header := MainNetParams.GenesisBlock.Header
	if header.Timestamp.Unix() != 1398093006 {
		t.Errorf("genesis timestamp = %d, want 1398093006", header.Timestamp.Unix())
	}
	if header.Bits != 0x1e0ffff0 {
		t.Errorf("genesis bits = %#x, want 0x1e0ffff0", header.Bits)
	}
	if header.Nonce != 307242 {
		t.Errorf("genesis nonce = %d, want 307242", header.Nonce)
	}
	if header.MerkleRoot.String() != "cf112b0792eaf749de18d633d3545aecd7b1343d78e14a830a242a03a6c31339" {
		t.Errorf("genesis merkle root = %s", header.MerkleRoot)
	}
	if *MainNetParams.GenesisHash != header.BlockHash() {
		t.Errorf("GenesisHash does not match header hash")
	}
}

func TestParamsForNetwork(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"mainnet", true},
		{"regtest", true},
		{"testnet9", false},
	}

	for _, test := range tests {
		params, ok := ParamsForNetwork(test.name)
		if ok != test.ok {
			t.Errorf("ParamsForNetwork(%s) ok = %v; expected %v", test.name, ok, test.ok)
			continue
		}
		if ok && params.Name != test.name {
			t.Errorf("ParamsForNetwork(%s) returned %s", test.name, params.Name)
		}
	}
	if RegressionNetParams.Net == MainNetParams.Net {
		t.Errorf("regtest shares main net magic")
	}
}
