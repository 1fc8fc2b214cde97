package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lackrobin/cashu/cashu"
)

// Server is the mint's public HTTP facade: GET /keys, GET /mint, POST
// /mint, POST /split, POST /check, POST /melt, and an optional GET /info.
type Server struct {
	httpServer *http.Server
	mint       *Mint
}

func SetupServer(mint *Mint, addr string) (*Server, error) {
	server := &Server{mint: mint}
	if err := server.setupHttpServer(addr); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) setupHttpServer(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/keys", s.getKeys).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/mint", s.getMintRequest).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/mint", s.postMint).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/split", s.postSplit).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/check", s.postCheck).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/melt", s.postMelt).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/info", s.getInfo).Methods(http.MethodGet, http.MethodOptions)

	r.Use(setupHeaders)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return nil
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Access-Control-Allow-Origin", "*")
		rw.Header().Set("Access-Control-Allow-Credentials", "true")
		rw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		rw.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, origin")

		if req.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(rw, req)
	})
}

func (s *Server) getKeys(rw http.ResponseWriter, req *http.Request) {
	writeJson(rw, http.StatusOK, s.mint.Keys())
}

func (s *Server) getMintRequest(rw http.ResponseWriter, req *http.Request) {
	amountStr := req.URL.Query().Get("amount")
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		writeCashuError(rw, cashu.BuildCashuError("invalid amount", cashu.StandardErrCode))
		return
	}

	mintReq, err := s.mint.RequestMint(amount)
	if err != nil {
		writeCashuError(rw, err)
		return
	}

	writeJson(rw, http.StatusOK, RequestMintResponse{
		PaymentRequest: mintReq.PaymentRequest,
		PaymentHash:    mintReq.PaymentHash,
	})
}

type RequestMintResponse struct {
	PaymentRequest string `json:"pr"`
	PaymentHash    string `json:"hash"`
}

type PostMintRequest struct {
	PaymentHash string                `json:"hash"`
	Outputs     cashu.BlindedMessages `json:"outputs"`
}

type PostMintResponse struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

func (s *Server) postMint(rw http.ResponseWriter, req *http.Request) {
	var body PostMintRequest
	if err := decodeJsonReqBody(req, &body); err != nil {
		writeCashuError(rw, err)
		return
	}

	sigs, err := s.mint.Mint(body.PaymentHash, body.Outputs)
	if err != nil {
		writeCashuError(rw, err)
		return
	}

	writeJson(rw, http.StatusOK, PostMintResponse{Signatures: sigs})
}

type PostSplitRequest struct {
	Proofs     cashu.Proofs        `json:"proofs"`
	Amount     uint64              `json:"amount"`
	OutputData PostSplitOutputData `json:"output_data"`
}

type PostSplitOutputData struct {
	BlindedMessages cashu.BlindedMessages `json:"blinded_messages"`
}

type PostSplitResponse struct {
	Fst cashu.BlindedSignatures `json:"fst"`
	Snd cashu.BlindedSignatures `json:"snd"`
}

func (s *Server) postSplit(rw http.ResponseWriter, req *http.Request) {
	var body PostSplitRequest
	if err := decodeJsonReqBody(req, &body); err != nil {
		writeCashuError(rw, err)
		return
	}

	fst, snd, err := s.mint.Split(body.Proofs, body.Amount, body.OutputData.BlindedMessages)
	if err != nil {
		writeCashuError(rw, err)
		return
	}

	writeJson(rw, http.StatusOK, PostSplitResponse{Fst: fst, Snd: snd})
}

type PostCheckRequest struct {
	Secrets []string `json:"secrets"`
}

type PostCheckResponse struct {
	Spent map[string]bool `json:"spent"`
}

func (s *Server) postCheck(rw http.ResponseWriter, req *http.Request) {
	var body PostCheckRequest
	if err := decodeJsonReqBody(req, &body); err != nil {
		writeCashuError(rw, err)
		return
	}

	spent, err := s.mint.Check(body.Secrets)
	if err != nil {
		writeCashuError(rw, err)
		return
	}

	writeJson(rw, http.StatusOK, PostCheckResponse{Spent: spent})
}

type PostMeltRequest struct {
	PaymentRequest string       `json:"pr"`
	Proofs         cashu.Proofs `json:"proofs"`
}

type PostMeltResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage"`
}

func (s *Server) postMelt(rw http.ResponseWriter, req *http.Request) {
	var body PostMeltRequest
	if err := decodeJsonReqBody(req, &body); err != nil {
		writeCashuError(rw, err)
		return
	}

	paid, preimage, err := s.mint.Melt(req.Context(), body.PaymentRequest, body.Proofs)
	if err != nil {
		writeCashuError(rw, err)
		return
	}

	writeJson(rw, http.StatusOK, PostMeltResponse{Paid: paid, Preimage: preimage})
}

type InfoResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Contact     []string `json:"contact,omitempty"`
	Version     string   `json:"version,omitempty"`
}

func (s *Server) getInfo(rw http.ResponseWriter, req *http.Request) {
	info := s.mint.Info()
	writeJson(rw, http.StatusOK, InfoResponse{
		Name:        info.Name,
		Description: info.Description,
		Contact:     info.Contact,
		Version:     info.Version,
	})
}

func writeJson(rw http.ResponseWriter, status int, body any) {
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}

// writeCashuError renders err as the mint's standard {"detail","code"} body.
// Errors that never originated from request validation (storage or
// Lightning backend failures) are reported as a generic 500 rather than
// leaking internal detail to the caller. Cashu errors are returned as both
// *cashu.Error (from BuildCashuError) and bare cashu.Error (the package's
// sentinel values), so both are handled here.
func writeCashuError(rw http.ResponseWriter, err error) {
	var cashuErr cashu.Error
	switch e := err.(type) {
	case *cashu.Error:
		cashuErr = *e
	case cashu.Error:
		cashuErr = e
	default:
		writeJson(rw, http.StatusInternalServerError, cashu.StandardErr)
		return
	}

	status := http.StatusBadRequest
	switch cashuErr.Code {
	case cashu.DBErrCode, cashu.LightningBackendErrCode:
		status = http.StatusInternalServerError
		cashuErr = cashu.StandardErr
	}

	writeJson(rw, status, cashuErr)
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	ct := req.Header.Get("Content-Type")
	if ct != "" {
		mediaType := strings.ToLower(strings.Split(ct, ";")[0])
		if mediaType != "application/json" {
			return cashu.BuildCashuError("Content-Type header is not application/json", cashu.StandardErrCode)
		}
	}

	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxErr):
			return cashu.BuildCashuError(fmt.Sprintf("bad json at %d", syntaxErr.Offset), cashu.StandardErrCode)
		case errors.As(err, &typeErr):
			return cashu.BuildCashuError(fmt.Sprintf("invalid %v for field %q", typeErr.Value, typeErr.Field), cashu.StandardErrCode)
		case errors.Is(err, io.EOF):
			return &cashu.EmptyBodyErr
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return cashu.BuildCashuError(fmt.Sprintf("request body contains unknown field %s", field), cashu.StandardErrCode)
		default:
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}
	}

	return nil
}
