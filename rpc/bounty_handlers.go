package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"microbounty/native/bounty"
)

type bountyCreateParams struct {
	Creator       string `json:"creator"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Reward        string `json:"reward"`
	PaymentToken  string `json:"paymentToken,omitempty"`
	Category      string `json:"category"`
	AttachedValue string `json:"attachedValue,omitempty"`
}

type bountySubmitParams struct {
	ID       uint64 `json:"id"`
	Hunter   string `json:"hunter"`
	ProofURL string `json:"proofUrl"`
	Notes    string `json:"notes,omitempty"`
}

type bountyActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type bountyIDParams struct {
	ID uint64 `json:"id"`
}

type bountyListParams struct {
	Status  string `json:"status,omitempty"`
	Creator string `json:"creator,omitempty"`
	Hunter  string `json:"hunter,omitempty"`
	Token   string `json:"token,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

type tokenApproveParams struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type bountyJSON struct {
	ID              uint64 `json:"id"`
	Creator         string `json:"creator"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Reward          string `json:"reward"`
	PaymentToken    string `json:"paymentToken"`
	Native          bool   `json:"native"`
	Status          string `json:"status"`
	Hunter          string `json:"hunter,omitempty"`
	ProofURL        string `json:"proofUrl,omitempty"`
	SubmissionNotes string `json:"submissionNotes,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	SubmittedAt     int64  `json:"submittedAt,omitempty"`
	CompletedAt     int64  `json:"completedAt,omitempty"`
	Category        string `json:"category"`
}

type platformStatsJSON struct {
	TotalBounties          uint64 `json:"totalBounties"`
	ActiveBounties         uint64 `json:"activeBounties"`
	CompletedBounties      uint64 `json:"completedBounties"`
	CancelledBounties      uint64 `json:"cancelledBounties"`
	TotalValueLockedNative string `json:"totalValueLockedNative"`
	TotalValueLockedStable string `json:"totalValueLockedStable"`
	TotalPaidOutNative     string `json:"totalPaidOutNative"`
	TotalPaidOutStable     string `json:"totalPaidOutStable"`
}

type participantStatsJSON struct {
	Address            string `json:"address"`
	Created            uint64 `json:"created"`
	CompletedAsCreator uint64 `json:"completedAsCreator"`
	SpentNative        string `json:"spentNative"`
	SpentStable        string `json:"spentStable"`
	EarnedNative       string `json:"earnedNative"`
	EarnedStable       string `json:"earnedStable"`
}

type accountJSON struct {
	Address       string `json:"address"`
	BalanceNative string `json:"balanceNative"`
	Nonce         uint64 `json:"nonce"`
}

func bountyToJSON(b *bounty.Bounty) *bountyJSON {
	out := &bountyJSON{
		ID:           b.ID,
		Creator:      b.Creator.Hex(),
		Title:        b.Title,
		Description:  b.Description,
		Reward:       b.Reward.String(),
		PaymentToken: b.PaymentToken.Hex(),
		Native:       b.Native(),
		Status:       b.Status.String(),
		CreatedAt:    b.CreatedAt,
		SubmittedAt:  b.SubmittedAt,
		CompletedAt:  b.CompletedAt,
		Category:     b.Category.String(),
	}
	if b.Hunter != (common.Address{}) {
		out.Hunter = b.Hunter.Hex()
		out.ProofURL = b.ProofURL
		out.SubmissionNotes = b.SubmissionNotes
	}
	return out
}

func statsToJSON(s *bounty.PlatformStats) *platformStatsJSON {
	return &platformStatsJSON{
		TotalBounties:          s.TotalBounties,
		ActiveBounties:         s.ActiveBounties,
		CompletedBounties:      s.CompletedBounties,
		CancelledBounties:      s.CancelledBounties,
		TotalValueLockedNative: s.TotalValueLockedNative.String(),
		TotalValueLockedStable: s.TotalValueLockedStable.String(),
		TotalPaidOutNative:     s.TotalPaidOutNative.String(),
		TotalPaidOutStable:     s.TotalPaidOutStable.String(),
	}
}

func decodeSingleParam(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], dst)
}

func parseAddressParam(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// parsePaymentToken accepts an empty string as the native sentinel.
func parsePaymentToken(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return bounty.NativeToken, nil
	}
	return parseAddressParam(raw)
}

func parseAmountParam(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func parseCategoryParam(raw string) (bounty.Category, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEVELOPMENT":
		return bounty.CategoryDevelopment, nil
	case "DESIGN":
		return bounty.CategoryDesign, nil
	case "CONTENT":
		return bounty.CategoryContent, nil
	case "BUG_FIX":
		return bounty.CategoryBugFix, nil
	case "OTHER":
		return bounty.CategoryOther, nil
	default:
		return 0, fmt.Errorf("unknown category %q", raw)
	}
}

func (s *Server) handleBountyCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bountyCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseAddressParam(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	reward, err := parseAmountParam(params.Reward)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parsePaymentToken(params.PaymentToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	category, err := parseCategoryParam(params.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	var attached *big.Int
	if params.AttachedValue != "" {
		if attached, err = parseAmountParam(params.AttachedValue); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
			return
		}
	}

	b, err := s.engine.Create(creator, params.Title, params.Description, reward, token, category, attached)
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation(req.Method)
	s.logger.Info("bounty created", "id", b.ID, "creator", b.Creator.Hex(), "reward", b.Reward.String())
	writeResult(w, req.ID, bountyToJSON(b))
}

func (s *Server) handleBountySubmitWork(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bountySubmitParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	hunter, err := parseAddressParam(params.Hunter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	b, err := s.engine.SubmitWork(params.ID, hunter, params.ProofURL, params.Notes)
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation(req.Method)
	s.logger.Info("work submitted", "id", b.ID, "hunter", b.Hunter.Hex())
	writeResult(w, req.ID, bountyToJSON(b))
}

func (s *Server) handleBountyApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bountyActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	b, err := s.engine.Approve(params.ID, caller)
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation(req.Method)
	s.logger.Info("bounty approved", "id", b.ID, "hunter", b.Hunter.Hex(), "reward", b.Reward.String())
	writeResult(w, req.ID, bountyToJSON(b))
}

func (s *Server) handleBountyCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bountyActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddressParam(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	b, err := s.engine.Cancel(params.ID, caller)
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.ObserveOperation(req.Method)
	s.logger.Info("bounty cancelled", "id", b.ID, "creator", b.Creator.Hex())
	writeResult(w, req.ID, bountyToJSON(b))
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parseAddressParam(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddressParam(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmountParam(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	if !s.engine.IsTokenSupported(token) {
		s.writeBountyError(w, req.ID, req.Method, bounty.ErrUnsupportedToken)
		return
	}
	if err := s.manager.TokenApprove(token, owner, s.manager.VaultAddress(), amount); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeBountyInternal, "internal", err.Error())
		return
	}
	s.metrics.ObserveOperation(req.Method)
	writeResult(w, req.ID, map[string]string{
		"token":     token.Hex(),
		"owner":     owner.Hex(),
		"allowance": amount.String(),
	})
}

func (s *Server) handleBountyGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bountyIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	b, err := s.engine.Get(params.ID)
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, bountyToJSON(b))
}

// handleBountyList serves the query surface: filter by status, creator,
// hunter, or payment token. Exactly one filter must be supplied.
func (s *Server) handleBountyList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bountyListParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}

	filters := 0
	for _, f := range []string{params.Status, params.Creator, params.Hunter, params.Token} {
		if strings.TrimSpace(f) != "" {
			filters++
		}
	}
	if filters != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", "exactly one filter expected: status, creator, hunter, or token")
		return
	}

	var (
		ids []uint64
		err error
	)
	switch {
	case params.Status != "":
		status, parseErr := bounty.ParseStatus(params.Status)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		ids, err = s.engine.ByStatus(status)
	case params.Creator != "":
		addr, parseErr := parseAddressParam(params.Creator)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		ids, err = s.engine.ByCreator(addr)
	case params.Hunter != "":
		addr, parseErr := parseAddressParam(params.Hunter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		ids, err = s.engine.ByHunter(addr)
	default:
		token, parseErr := parsePaymentToken(params.Token)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		ids, err = s.engine.ByToken(token)
	}
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}

	out := make([]*bountyJSON, 0, len(ids))
	for _, id := range ids {
		b, getErr := s.engine.Get(id)
		if getErr != nil {
			continue
		}
		out = append(out, bountyToJSON(b))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleBountyCount(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	count, err := s.engine.Count()
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"count": count})
}

func (s *Server) handleBountyPlatformStats(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	stats, err := s.engine.PlatformStats()
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, statsToJSON(stats))
}

func (s *Server) handleBountyParticipantStats(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	stats, err := s.engine.ParticipantStats(addr)
	if err != nil {
		s.writeBountyError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, &participantStatsJSON{
		Address:            addr.Hex(),
		Created:            stats.Created,
		CompletedAsCreator: stats.CompletedAsCreator,
		SpentNative:        stats.SpentNative.String(),
		SpentStable:        stats.SpentStable.String(),
		EarnedNative:       stats.EarnedNative.String(),
		EarnedStable:       stats.EarnedStable.String(),
	})
}

func (s *Server) handleBountySupportedTokens(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	tokens := s.engine.Registry().Tokens()
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, token.Hex())
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleBountyIsTokenSupported(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := parseAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"supported": s.engine.IsTokenSupported(token)})
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeBountyInvalidParams, "invalid_params", err.Error())
		return
	}
	acc, err := s.manager.GetAccount(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeBountyInternal, "internal", err.Error())
		return
	}
	writeResult(w, req.ID, &accountJSON{
		Address:       addr.Hex(),
		BalanceNative: acc.BalanceNative.String(),
		Nonce:         acc.Nonce,
	})
}
