package resolver

import (
	"encoding/hex"
	"encoding/json"

	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/model"
)

func decodeFileMetadata(plain []byte, fm *model.FileMetadata) error {
	if err := json.Unmarshal(plain, fm); err != nil {
		return ferrors.New(ferrors.Fatal, "resolver.decodeFileMetadata", err)
	}
	return nil
}

func hexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ferrors.New(ferrors.Fatal, "resolver.hexDecode", err)
	}
	return b, nil
}
