package wallet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lackrobin/cashu/cashu"
	"github.com/lackrobin/cashu/crypto"
)

func getMintKeys(mintURL string) (crypto.PublicKeys, error) {
	resp, err := http.Get(mintURL + "/keys")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	resp, err = parse(resp)
	if err != nil {
		return nil, err
	}

	var keys crypto.PublicKeys
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("json.Decode: %v", err)
	}
	return keys, nil
}

type requestMintResponse struct {
	PaymentRequest string `json:"pr"`
	PaymentHash    string `json:"hash"`
}

func requestMint(mintURL string, amount uint64) (requestMintResponse, error) {
	resp, err := http.Get(fmt.Sprintf("%s/mint?amount=%d", mintURL, amount))
	if err != nil {
		return requestMintResponse{}, err
	}
	defer resp.Body.Close()

	resp, err = parse(resp)
	if err != nil {
		return requestMintResponse{}, err
	}

	var mintResp requestMintResponse
	if err := json.NewDecoder(resp.Body).Decode(&mintResp); err != nil {
		return requestMintResponse{}, fmt.Errorf("json.Decode: %v", err)
	}
	return mintResp, nil
}

type postMintRequest struct {
	PaymentHash string                `json:"hash"`
	Outputs     cashu.BlindedMessages `json:"outputs"`
}

type postMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

func postMint(mintURL, paymentHash string, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	body, err := json.Marshal(postMintRequest{PaymentHash: paymentHash, Outputs: outputs})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(mintURL+"/mint", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mintResp postMintResponse
	if err := json.NewDecoder(resp.Body).Decode(&mintResp); err != nil {
		return nil, fmt.Errorf("error decoding response from mint: %v", err)
	}
	return mintResp.Signatures, nil
}

type postSplitRequest struct {
	Proofs     cashu.Proofs        `json:"proofs"`
	Amount     uint64              `json:"amount"`
	OutputData postSplitOutputData `json:"output_data"`
}

type postSplitOutputData struct {
	BlindedMessages cashu.BlindedMessages `json:"blinded_messages"`
}

type postSplitResponse struct {
	Fst cashu.BlindedSignatures `json:"fst"`
	Snd cashu.BlindedSignatures `json:"snd"`
}

// postSplit submits proofs for a split into a fst (change) set worth
// total(proofs)-requestedAmount and a snd set worth requestedAmount, in
// that order; outputs must carry the fst messages (per AmountSplit of
// total-requestedAmount) before the snd ones, since the mint derives the
// partition point from that decomposition rather than from an index on
// the wire.
func postSplit(mintURL string, proofs cashu.Proofs, requestedAmount uint64, outputs cashu.BlindedMessages) (fst, snd cashu.BlindedSignatures, err error) {
	body, err := json.Marshal(postSplitRequest{
		Proofs:     proofs,
		Amount:     requestedAmount,
		OutputData: postSplitOutputData{BlindedMessages: outputs},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(mintURL+"/split", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var splitResp postSplitResponse
	if err := json.NewDecoder(resp.Body).Decode(&splitResp); err != nil {
		return nil, nil, fmt.Errorf("error decoding response from mint: %v", err)
	}
	return splitResp.Fst, splitResp.Snd, nil
}

type postCheckRequest struct {
	Secrets []string `json:"secrets"`
}

type postCheckResponse struct {
	Spent map[string]bool `json:"spent"`
}

func postCheck(mintURL string, secrets []string) (map[string]bool, error) {
	body, err := json.Marshal(postCheckRequest{Secrets: secrets})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(mintURL+"/check", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var checkResp postCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&checkResp); err != nil {
		return nil, fmt.Errorf("error decoding response from mint: %v", err)
	}
	return checkResp.Spent, nil
}

type postMeltRequest struct {
	PaymentRequest string       `json:"pr"`
	Proofs         cashu.Proofs `json:"proofs"`
}

type postMeltResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage"`
}

func postMelt(mintURL, paymentRequest string, proofs cashu.Proofs) (postMeltResponse, error) {
	body, err := json.Marshal(postMeltRequest{PaymentRequest: paymentRequest, Proofs: proofs})
	if err != nil {
		return postMeltResponse{}, fmt.Errorf("json.Marshal: %v", err)
	}

	resp, err := httpPost(mintURL+"/melt", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return postMeltResponse{}, err
	}
	defer resp.Body.Close()

	var meltResp postMeltResponse
	if err := json.NewDecoder(resp.Body).Decode(&meltResp); err != nil {
		return postMeltResponse{}, fmt.Errorf("error decoding response from mint: %v", err)
	}
	return meltResp, nil
}

func httpPost(url, contentType string, body io.Reader) (*http.Response, error) {
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		return nil, err
	}
	return parse(resp)
}

// parse surfaces the mint's {"detail","code"} error body as a cashu.Error
// rather than a generic HTTP status, so callers can branch on Code.
func parse(response *http.Response) (*http.Response, error) {
	if response.StatusCode == http.StatusBadRequest {
		var errResponse cashu.Error
		if err := json.NewDecoder(response.Body).Decode(&errResponse); err != nil {
			return nil, fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return nil, errResponse
	}

	if response.StatusCode != http.StatusOK {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s", body)
	}

	return response, nil
}
