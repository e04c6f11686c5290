package round

import (
	"context"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/mcdev12/potgame/go/internal/models"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Client calls potgame.v1.GameService
type Client struct {
	buyKey        *connect.Client[emptypb.Empty, structpb.Struct]
	getState      *connect.Client[emptypb.Empty, structpb.Struct]
	getServerTime *connect.Client[emptypb.Empty, timestamppb.Timestamp]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		buyKey:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+BuyKeyProcedure, opts...),
		getState:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStateProcedure, opts...),
		getServerTime: connect.NewClient[emptypb.Empty, timestamppb.Timestamp](httpClient, baseURL+GetServerTimeProcedure, opts...),
	}
}

// BuyKey buys a key as account and returns the outcome fields.
func (c *Client) BuyKey(ctx context.Context, account models.Account) (map[string]any, error) {
	req := connect.NewRequest(&emptypb.Empty{})
	req.Header().Set(AccountHeader, string(account))

	resp, err := c.buyKey.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// GetState returns the state fields.
func (c *Client) GetState(ctx context.Context) (map[string]any, error) {
	resp, err := c.getState.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// GetServerTime returns the server's clock.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	resp, err := c.getServerTime.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return time.Time{}, err
	}
	return resp.Msg.AsTime(), nil
}
