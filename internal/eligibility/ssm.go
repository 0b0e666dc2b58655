package eligibility

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads the prefix list from a String or StringList parameter.
type SSMSource struct {
	Client SSMAPI
	Param  string
}

// Fetch returns the rule currently stored in the parameter.
func (s *SSMSource) Fetch(ctx context.Context) (*Rule, error) {
	if s.Param == "" {
		return nil, xerrors.New("eligibility: SSM parameter name is empty")
	}
	out, err := s.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.Param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get ssm parameter %s", s.Param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("ssm parameter %s has no value", s.Param)
	}
	rule := NewRule(ParseList(aws.ToString(out.Parameter.Value)))
	if rule.Len() == 0 {
		return nil, xerrors.Newf("ssm parameter %s holds no prefixes", s.Param)
	}
	return rule, nil
}
