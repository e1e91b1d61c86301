// Package convert maps domain types to and from the issuer's Struct messages.
package convert

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	v1 "github.com/shopease/sessionkeeper/internal/api/sessionv1"
	"github.com/shopease/sessionkeeper/internal/model"
)

// --- helpers ---

func str(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func millis(s *structpb.Struct, key string) time.Time {
	v, ok := s.GetFields()[key]
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(int64(v.GetNumberValue()))
}

func putString(fields map[string]*structpb.Value, key, v string) {
	if v != "" {
		fields[key] = structpb.NewStringValue(v)
	}
}

// --- Issue (client -> server) ---

// ToIssueRequest encodes a login request.
func ToIssueRequest(method model.AuthMethod, d model.LoginData) *structpb.Struct {
	f := map[string]*structpb.Value{v1.FieldMethod: structpb.NewStringValue(string(method))}
	putString(f, v1.FieldPhoneNumber, d.PhoneNumber)
	putString(f, v1.FieldEmail, d.Email)
	putString(f, v1.FieldName, d.Name)
	putString(f, v1.FieldIDToken, d.IDToken)
	return &structpb.Struct{Fields: f}
}

// FromIssueRequest decodes a login request.
func FromIssueRequest(in *structpb.Struct) (model.AuthMethod, model.LoginData, error) {
	if in == nil {
		return "", model.LoginData{}, fmt.Errorf("nil request")
	}
	m, err := model.ParseAuthMethod(str(in, v1.FieldMethod))
	if err != nil {
		return "", model.LoginData{}, err
	}
	return m, model.LoginData{
		PhoneNumber: str(in, v1.FieldPhoneNumber),
		Email:       str(in, v1.FieldEmail),
		Name:        str(in, v1.FieldName),
		IDToken:     str(in, v1.FieldIDToken),
	}, nil
}

// --- Refresh / Revoke (client -> server) ---

// ToTokenRequest wraps a refresh token.
func ToTokenRequest(refreshToken string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		v1.FieldRefreshToken: structpb.NewStringValue(refreshToken),
	}}
}

// FromTokenRequest extracts a refresh token.
func FromTokenRequest(in *structpb.Struct) (string, error) {
	rt := str(in, v1.FieldRefreshToken)
	if rt == "" {
		return "", fmt.Errorf("empty refresh_token")
	}
	return rt, nil
}

// --- Credentials / Profile (server -> client) ---

// ToProtoCredentials encodes credentials into fields of a new Struct.
func ToProtoCredentials(c model.Credentials) *structpb.Struct {
	f := map[string]*structpb.Value{
		v1.FieldAccessToken:  structpb.NewStringValue(c.AccessToken),
		v1.FieldRefreshToken: structpb.NewStringValue(c.RefreshToken),
		v1.FieldTokenType:    structpb.NewStringValue(c.TokenType),
		v1.FieldIssuedAt:     structpb.NewNumberValue(float64(c.IssuedAt.UnixMilli())),
		v1.FieldExpiresAt:    structpb.NewNumberValue(float64(c.ExpiresAt.UnixMilli())),
	}
	return &structpb.Struct{Fields: f}
}

// FromProtoCredentials decodes credentials and validates them.
func FromProtoCredentials(in *structpb.Struct) (model.Credentials, error) {
	if in == nil {
		return model.Credentials{}, fmt.Errorf("nil credentials")
	}
	c := model.Credentials{
		AccessToken:  str(in, v1.FieldAccessToken),
		RefreshToken: str(in, v1.FieldRefreshToken),
		TokenType:    str(in, v1.FieldTokenType),
		IssuedAt:     millis(in, v1.FieldIssuedAt),
		ExpiresAt:    millis(in, v1.FieldExpiresAt),
	}
	if c.TokenType == "" {
		c.TokenType = model.TokenTypeBearer
	}
	if err := c.Validate(); err != nil {
		return model.Credentials{}, err
	}
	return c, nil
}

// ToProtoProfile encodes a profile.
func ToProtoProfile(p model.Profile) *structpb.Struct {
	f := map[string]*structpb.Value{v1.FieldID: structpb.NewStringValue(p.ID)}
	putString(f, v1.FieldEmail, p.Email)
	putString(f, v1.FieldPhone, p.Phone)
	putString(f, v1.FieldName, p.Name)
	putString(f, v1.FieldDefaultAddressID, p.DefaultAddressID)
	return &structpb.Struct{Fields: f}
}

// FromProtoProfile decodes a profile; the id is required.
func FromProtoProfile(in *structpb.Struct) (model.Profile, error) {
	p := model.Profile{
		ID:               str(in, v1.FieldID),
		Email:            str(in, v1.FieldEmail),
		Phone:            str(in, v1.FieldPhone),
		Name:             str(in, v1.FieldName),
		DefaultAddressID: str(in, v1.FieldDefaultAddressID),
	}
	if p.ID == "" {
		return model.Profile{}, fmt.Errorf("profile without id")
	}
	return p, nil
}

// ToIssueResponse nests the profile under "profile" next to the credential fields.
func ToIssueResponse(c model.Credentials, p model.Profile) *structpb.Struct {
	out := ToProtoCredentials(c)
	out.Fields[v1.FieldProfile] = structpb.NewStructValue(ToProtoProfile(p))
	return out
}

// FromIssueResponse reverses ToIssueResponse.
func FromIssueResponse(in *structpb.Struct) (model.Credentials, model.Profile, error) {
	c, err := FromProtoCredentials(in)
	if err != nil {
		return model.Credentials{}, model.Profile{}, err
	}
	p, err := FromProtoProfile(in.GetFields()[v1.FieldProfile].GetStructValue())
	if err != nil {
		return model.Credentials{}, model.Profile{}, err
	}
	return c, p, nil
}
