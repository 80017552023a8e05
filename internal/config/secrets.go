package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretSource supplies secret values for Parameter Store paths. LoadConfig
// uses it to resolve the pointer variables declared in secretKeys; Fetch
// returns path -> value and silently omits paths it cannot find, leaving
// missing-value handling to the caller.
type SecretSource interface {
	Fetch(ctx context.Context, paths []string) (map[string]string, error)
}

// maxSecretPaths is the GetParameters API limit per call. Conjure declares
// four managed secrets, so a single call always covers the full set and
// anything beyond the limit indicates a programming error rather than a
// batching need.
const maxSecretPaths = 10

// ssmAPI is the slice of the SSM client that SSMSource uses.
type ssmAPI interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMSource resolves paths against AWS Systems Manager Parameter Store with
// decryption enabled. The AWS client is built lazily on first Fetch so that
// constructing the source never requires credentials, which keeps local-mode
// startup (where the source is never used) credential-free.
type SSMSource struct {
	region string
	client ssmAPI
}

// NewSSMSource returns a source that resolves parameters in the given region.
func NewSSMSource(region string) *SSMSource {
	return &SSMSource{region: region}
}

// newSSMSourceWithClient injects a pre-built client, for tests.
func newSSMSourceWithClient(client ssmAPI) *SSMSource {
	return &SSMSource{client: client}
}

func (s *SSMSource) Fetch(ctx context.Context, paths []string) (map[string]string, error) {
	if len(paths) == 0 {
		return map[string]string{}, nil
	}
	if len(paths) > maxSecretPaths {
		return nil, fmt.Errorf("cannot fetch %d parameters in a single call (limit %d)", len(paths), maxSecretPaths)
	}

	if s.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for region %q: %w", s.region, err)
		}
		s.client = ssm.NewFromConfig(awsCfg)
	}

	out, err := s.client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          paths,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %d parameters: %w", len(paths), err)
	}
	if len(out.InvalidParameters) > 0 {
		return nil, fmt.Errorf("invalid parameters: %s", strings.Join(out.InvalidParameters, ", "))
	}

	values := make(map[string]string, len(out.Parameters))
	for _, p := range out.Parameters {
		if p.Name == nil || p.Value == nil {
			continue
		}
		values[*p.Name] = *p.Value
	}
	return values, nil
}
