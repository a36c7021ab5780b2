package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/nci/vex/utils"
	pb "github.com/nci/vex/worker/extractservice"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
)

const (
	errKindInvalidGeometry     = "invalid_geometry"
	errKindUnsupportedGeometry = "unsupported_geometry"
	errKindUnknownClass        = "unknown_class"
	errKindInternal            = "internal"
)

// extractResponse is the wire form of a worker reply. Errors travel in
// the payload so their kind survives the round trip.
type extractResponse struct {
	Result     *RenderResult `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	PixelValue int           `json:"pixel_value,omitempty"`
}

func encodeExtractResponse(res *RenderResult, err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(&extractResponse{Result: res})
	}

	resp := &extractResponse{Error: err.Error(), ErrorKind: errKindInternal}
	var classErr *UnknownClassError
	switch {
	case errors.As(err, &classErr):
		resp.ErrorKind = errKindUnknownClass
		resp.PixelValue = classErr.PixelValue
	case errors.Is(err, ErrInvalidGeometry):
		resp.ErrorKind = errKindInvalidGeometry
	case errors.Is(err, utils.ErrUnsupportedGeometry):
		resp.ErrorKind = errKindUnsupportedGeometry
	}
	return json.Marshal(resp)
}

func decodeExtractResponse(payload []byte) (*RenderResult, error) {
	var resp extractResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("invalid worker response: %v", err)
	}

	switch resp.ErrorKind {
	case "":
	case errKindUnknownClass:
		return nil, &UnknownClassError{PixelValue: resp.PixelValue}
	case errKindInvalidGeometry:
		return nil, fmt.Errorf("%w: %s", ErrInvalidGeometry, resp.Error)
	case errKindUnsupportedGeometry:
		return nil, utils.ErrUnsupportedGeometry
	default:
		return nil, fmt.Errorf("worker error: %s", resp.Error)
	}

	if resp.Result == nil {
		return nil, fmt.Errorf("worker response has no result")
	}
	return resp.Result, nil
}

// ExtractServer serves extractions to remote RemoteRenderer clients,
// running at most the limiter's capacity at once.
type ExtractServer struct {
	Extractor Extractor
	Limiter   *ConcLimiter
	Verbose   bool
}

func (s *ExtractServer) Extract(ctx context.Context, in *wrappers.BytesValue) (*wrappers.BytesValue, error) {
	var params RenderParams
	if err := json.Unmarshal(in.Value, &params); err != nil {
		return nil, fmt.Errorf("invalid render params: %v", err)
	}

	if s.Limiter != nil {
		if err := s.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer s.Limiter.Release()
	}

	res, err := s.Extractor.Render(ctx, params)
	if err != nil && s.Verbose {
		log.Printf("Extract %s, year %d: %v", params.SrcPath, params.Year, err)
	}

	payload, err := encodeExtractResponse(res, err)
	if err != nil {
		return nil, err
	}
	return &wrappers.BytesValue{Value: payload}, nil
}

// RemoteRenderer renders on worker nodes picked at random per request.
type RemoteRenderer struct {
	conns   []*grpc.ClientConn
	clients []pb.ExtractorClient
}

func NewRemoteRenderer(workerNodes []string) (*RemoteRenderer, error) {
	if len(workerNodes) == 0 {
		return nil, fmt.Errorf("no worker nodes configured")
	}

	r := &RemoteRenderer{}
	for _, node := range workerNodes {
		conn, err := grpc.Dial(node, grpc.WithInsecure())
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("gRPC connection problem: %v", err)
		}
		r.conns = append(r.conns, conn)
		r.clients = append(r.clients, pb.NewExtractorClient(conn))
	}
	return r, nil
}

func (r *RemoteRenderer) Render(ctx context.Context, params RenderParams) (*RenderResult, error) {
	payload, err := json.Marshal(&params)
	if err != nil {
		return nil, err
	}

	c := r.clients[rand.Intn(len(r.clients))]
	out, err := c.Extract(ctx, &wrappers.BytesValue{Value: payload})
	if err != nil {
		return nil, fmt.Errorf("Extract gRPC error: %v", err)
	}
	return decodeExtractResponse(out.Value)
}

func (r *RemoteRenderer) Close() {
	for _, conn := range r.conns {
		conn.Close()
	}
}
