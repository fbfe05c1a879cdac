// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"grimm.is/breakwater/internal/controlplane"
	"grimm.is/breakwater/internal/dataplane/types"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.GetStatus())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.mgr.SetEnabled(req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.GetStats())
}

func (s *Server) handleEscalation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level uint64 `json:"level"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.mgr.SetEscalation(req.Level)
	s.writeJSON(w, http.StatusOK, map[string]uint64{"level": req.Level})
}

type cidrRequest struct {
	CIDR   string `json:"cidr"`
	Reason uint32 `json:"reason"`
}

func (s *Server) handleACLAdd(w http.ResponseWriter, r *http.Request) {
	var req cidrRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.AddCIDR(mux.Vars(r)["list"], req.CIDR, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"added": req.CIDR})
}

func (s *Server) handleACLRemove(w http.ResponseWriter, r *http.Request) {
	var req cidrRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.RemoveCIDR(mux.Vars(r)["list"], req.CIDR); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": req.CIDR})
}

func (s *Server) handleThreatIntelAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDR       string `json:"cidr"`
		FeedSource uint8  `json:"feed_source"`
		ThreatType uint8  `json:"threat_type"`
		Confidence uint8  `json:"confidence"`
		Action     uint8  `json:"action"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	err := s.mgr.AddThreatIntel(req.CIDR, types.ThreatIntelEntry{
		FeedSource: req.FeedSource,
		ThreatType: req.ThreatType,
		Confidence: req.Confidence,
		Action:     req.Action,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"added": req.CIDR})
}

func (s *Server) handleGeoIPAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDR    string `json:"cidr"`
		Country string `json:"country"`
		Action  uint8  `json:"action"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.AddGeoIP(req.CIDR, req.Country, req.Action); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"added": req.CIDR})
}

func (s *Server) handleRatesGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.GetRateConfig())
}

func (s *Server) handleRatesSet(w http.ResponseWriter, r *http.Request) {
	var req controlplane.RateConfig
	if !s.decode(w, r, &req) {
		return
	}
	s.mgr.SetRateConfig(req)
	s.writeJSON(w, http.StatusOK, s.mgr.GetRateConfig())
}

func (s *Server) handleSignaturesGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.Scrubber().Signatures())
}

func (s *Server) handleSignatureSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index     int             `json:"index"`
		Signature types.Signature `json:"signature"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.SetAttackSignature(req.Index, req.Signature); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"index": req.Index})
}

func (s *Server) handleSignatureCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count uint32 `json:"count"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.SetSignatureCount(req.Count); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint32{"count": req.Count})
}

func (s *Server) handleSignaturesClear(w http.ResponseWriter, r *http.Request) {
	s.mgr.ClearSignatures()
	s.writeJSON(w, http.StatusOK, map[string]uint32{"count": 0})
}

func (s *Server) handlePayloadRulesGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mgr.Scrubber().PayloadRules())
}

func (s *Server) handlePayloadRuleSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int               `json:"index"`
		Rule  types.PayloadRule `json:"rule"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.SetPayloadRule(req.Index, req.Rule); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"index": req.Index})
}

func (s *Server) handlePayloadRuleCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count uint32 `json:"count"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.SetPayloadRuleCount(req.Count); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint32{"count": req.Count})
}

func (s *Server) handlePayloadRulesClear(w http.ResponseWriter, r *http.Request) {
	s.mgr.ClearPayloadRules()
	s.writeJSON(w, http.StatusOK, map[string]uint32{"count": 0})
}

func (s *Server) handleConntrackFlush(w http.ResponseWriter, r *http.Request) {
	deleted := s.mgr.FlushConntrack()
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleCountrySet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action uint8 `json:"action"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	code := mux.Vars(r)["code"]
	if err := s.mgr.SetCountryPolicy(code, req.Action); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"country": code, "action": req.Action})
}

func (s *Server) handleCountryDelete(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := s.mgr.DeleteCountryPolicy(code); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": code})
}

func (s *Server) handleGREAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDR     string `json:"cidr"`
		Endpoint string `json:"endpoint"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.AddGRETunnel(req.CIDR, req.Endpoint); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"added": req.CIDR})
}

func (s *Server) handleGRERemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDR string `json:"cidr"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.RemoveGRETunnel(req.CIDR); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": req.CIDR})
}

func (s *Server) handlePortRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Port uint16 `json:"port"`
		Bits uint32 `json:"bits"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.mgr.RegisterPortProtocol(req.Port, req.Bits)
	s.writeJSON(w, http.StatusOK, map[string]any{"port": req.Port, "bits": req.Bits})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.BlockSource(req.IP); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"blocked": req.IP})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mgr.UnblockSource(req.IP); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"unblocked": req.IP})
}
