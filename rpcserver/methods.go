package rpcserver

import (
	"errors"
	"fmt"

	"uro-core/network"
)

func invalidParams(format string, args ...interface{}) error {
	return &JSONRPCError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// stringParam returns params[i] as a string.
func stringParam(params []interface{}, i int, name string) (string, error) {
	if len(params) <= i {
		return "", invalidParams("missing %s parameter", name)
	}
	s, ok := params[i].(string)
	if !ok || s == "" {
		return "", invalidParams("invalid %s parameter", name)
	}
	return s, nil
}

// getPeerInfo returns information about every peer.
func (s *Server) getPeerInfo(params []interface{}) (interface{}, error) {
	return s.peers.GetPeerInfo(), nil
}

// getConnectionCount returns the number of connected peers.
func (s *Server) getConnectionCount(params []interface{}) (interface{}, error) {
	return s.peers.ConnectionCount(), nil
}

// getBestBlockHash returns the most recent block announced to the node.
func (s *Server) getBestBlockHash(params []interface{}) (interface{}, error) {
	tip, err := s.peers.ChainTip()
	if err != nil {
		return nil, fmt.Errorf("failed to get chain tip: %w", err)
	}
	return tip.String(), nil
}

func (s *Server) getNetworkInfo(params []interface{}) (interface{}, error) {
	info := NetworkInfo{
		Network:         s.params.Name,
		ProtocolVersion: s.params.ProtocolVersion,
		SubVersion:      fmt.Sprintf("/%s:%s/", s.params.UserAgentName, s.params.UserAgentVersion),
		Connections:     s.peers.ConnectionCount(),
	}
	if tip, err := s.peers.ChainTip(); err == nil {
		info.BestBlockHash = tip.String()
	}
	return info, nil
}

// addNode handles "addnode <addr> add|remove|onetry".
func (s *Server) addNode(params []interface{}) (interface{}, error) {
	addr, err := stringParam(params, 0, "node")
	if err != nil {
		return nil, err
	}
	command, err := stringParam(params, 1, "command")
	if err != nil {
		return nil, err
	}

	switch command {
	case "add", "onetry":
		err = s.peers.AddNode(addr)
	case "remove":
		err = s.peers.DisconnectNode(addr)
	default:
		return nil, invalidParams("invalid command %q", command)
	}

	switch {
	case errors.Is(err, network.ErrAlreadyConnected):
		return nil, &JSONRPCError{Code: codeNodeConnected, Message: "Node already added"}
	case errors.Is(err, network.ErrPeerNotFound):
		return nil, &JSONRPCError{Code: codeNodeNotFound, Message: "Node has not been added"}
	case err != nil:
		return nil, err
	}
	return nil, nil
}

// disconnectNode drops a peer by address or id.
func (s *Server) disconnectNode(params []interface{}) (interface{}, error) {
	target, err := stringParam(params, 0, "address")
	if err != nil {
		return nil, err
	}
	if err := s.peers.DisconnectNode(target); err != nil {
		if errors.Is(err, network.ErrPeerNotFound) {
			return nil, &JSONRPCError{Code: codeNodeNotFound, Message: "Node not found in connected nodes"}
		}
		return nil, err
	}
	return nil, nil
}

// getNodeAddresses returns up to count known addresses, one by default.
func (s *Server) getNodeAddresses(params []interface{}) (interface{}, error) {
	count := 1
	if len(params) > 0 {
		n, ok := params[0].(float64)
		if !ok || n < 0 {
			return nil, invalidParams("invalid count parameter")
		}
		count = int(n)
	}

	records := s.peers.NodeAddresses(count)
	addrs := make([]NodeAddress, 0, len(records))
	for _, rec := range records {
		addrs = append(addrs, NodeAddress{
			Time:     rec.Timestamp.Unix(),
			Services: uint64(rec.Services),
			Address:  rec.IP().String(),
			Port:     rec.Port,
		})
	}
	return addrs, nil
}
