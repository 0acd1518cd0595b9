package control

import (
	"encoding/json"
	stderrors "errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-startup/pkg/errors"
)

// toStruct carries the JSON form of v, which must encode as an object
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode payload", err)
	}
	result := &structpb.Struct{}
	if err := protojson.Unmarshal(data, result); err != nil {
		return nil, errors.NewInternalError("failed to convert payload", err)
	}
	return result, nil
}

func fromStruct(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return errors.NewValidationError("payload is missing", nil)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return errors.NewInternalError("failed to convert payload", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewValidationError("failed to decode payload", err)
	}
	return nil
}

var errorCodes = map[errors.ErrorType]codes.Code{
	errors.ErrorTypeValidation:       codes.InvalidArgument,
	errors.ErrorTypeNotFound:         codes.NotFound,
	errors.ErrorTypeConflict:         codes.Aborted,
	errors.ErrorTypeIO:               codes.Unavailable,
	errors.ErrorTypeInternal:         codes.Internal,
	errors.ErrorTypeCancelled:        codes.Canceled,
	errors.ErrorTypeHost:             codes.Unavailable,
	errors.ErrorTypeUnknownReference: codes.FailedPrecondition,
	errors.ErrorTypeCycleDetected:    codes.FailedPrecondition,
	errors.ErrorTypeConfigMissing:    codes.FailedPrecondition,
}

// toStatus converts a domain error to a gRPC status, keeping the error type
// in a status detail
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var domainErr *errors.DomainError
	if !stderrors.As(err, &domainErr) {
		return status.Error(codes.Unknown, err.Error())
	}

	code, ok := errorCodes[domainErr.Type]
	if !ok {
		code = codes.Unknown
	}
	st := status.New(code, err.Error())
	detail, detailErr := structpb.NewStruct(map[string]interface{}{
		"type": string(domainErr.Type),
	})
	if detailErr != nil {
		return st.Err()
	}
	if withDetails, detailErr := st.WithDetails(detail); detailErr == nil {
		st = withDetails
	}
	return st.Err()
}

// fromStatus restores the domain error type sent by toStatus
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	for _, detail := range st.Details() {
		if s, ok := detail.(*structpb.Struct); ok {
			if value, ok := s.GetFields()["type"]; ok {
				errorType := errors.ErrorType(value.GetStringValue())
				message := strings.TrimPrefix(st.Message(), string(errorType)+": ")
				return errors.NewDomainError(errorType, message, nil)
			}
		}
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return errors.NewValidationError(st.Message(), err)
	case codes.NotFound:
		return errors.NewNotFoundError(st.Message(), err)
	case codes.Canceled, codes.DeadlineExceeded:
		return errors.NewCancelledError(st.Message(), err)
	default:
		return errors.NewIOError("control call failed", err)
	}
}
