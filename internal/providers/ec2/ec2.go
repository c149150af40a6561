// Package ec2 implements the fleet provider on AWS EC2. Fleet membership is
// the cluster-name tag; instances are grouped by reservation.
package ec2

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

const (
	DefaultTagKey       = "cluster-name"
	DefaultAMI          = "ami-a4dc46db"
	DefaultInstanceType = "m3.xlarge"
	DefaultSpotPrice    = "0.3"
	DefaultRegion       = "us-east-1"
)

// API is the subset of the EC2 client the provider uses.
type API interface {
	DescribeInstances(ctx context.Context, params *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, params *awsec2.RunInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *awsec2.TerminateInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *awsec2.DescribeSecurityGroupsInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeSecurityGroupsOutput, error)
}

type Provider struct {
	api    API
	cfg    prov.Config
	tagKey string
}

var (
	_ prov.Provider  = (*Provider)(nil)
	_ prov.Diagnoser = (*Provider)(nil)
)

// New builds a provider backed by the AWS SDK default credential chain,
// unless explicit access keys are configured.
func New(ctx context.Context, cfg prov.Config) (*Provider, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPI(awsec2.NewFromConfig(awsCfg), cfg), nil
}

// NewWithAPI builds a provider around an existing client.
func NewWithAPI(api API, cfg prov.Config) *Provider {
	tagKey := cfg.Providers.EC2.TagKey
	if tagKey == "" {
		tagKey = DefaultTagKey
	}
	return &Provider{api: api, cfg: cfg, tagKey: tagKey}
}

func loadAWSConfig(ctx context.Context, cfg prov.Config) (aws.Config, error) {
	ec := cfg.Providers.EC2
	var opts []func(*config.LoadOptions) error
	if ec.Region != "" {
		opts = append(opts, config.WithRegion(ec.Region))
	}
	if ec.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(ec.Profile))
	}
	if ec.AccessKeyID != "" && ec.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ec.AccessKeyID, ec.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" {
		awsCfg.Region = DefaultRegion
	}
	return awsCfg, nil
}

func (p *Provider) Name() string { return "ec2" }

// ListInstances returns every instance tagged with the fleet name across all
// reservations, in API response order.
func (p *Provider) ListInstances(ctx context.Context, fleet string) ([]prov.InstanceRecord, error) {
	input := &awsec2.DescribeInstancesInput{
		Filters: []types.Filter{{
			Name:   aws.String("tag:" + p.tagKey),
			Values: []string{fleet},
		}},
	}
	var records []prov.InstanceRecord
	pager := awsec2.NewDescribeInstancesPaginator(p.api, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, apiError("DescribeInstances", err)
		}
		for _, res := range page.Reservations {
			group := aws.ToString(res.ReservationId)
			for _, inst := range res.Instances {
				records = append(records, toRecord(group, inst))
			}
		}
	}
	return records, nil
}

// CreateInstances requests spot instances tagged with the fleet name. The
// returned records are the provider's initial view; callers poll readiness.
func (p *Provider) CreateInstances(ctx context.Context, req prov.CreateRequest) ([]prov.InstanceRecord, error) {
	ec := p.cfg.Providers.EC2
	ami := firstNonEmpty(req.Image, ec.AMI, DefaultAMI)
	itype := firstNonEmpty(req.Size, ec.InstanceType, DefaultInstanceType)
	keyName := firstNonEmpty(req.KeyName, ec.KeyName)
	price := firstNonEmpty(req.SpotPrice, ec.SpotPrice, DefaultSpotPrice)
	if keyName == "" {
		return nil, prov.ValidationError{Field: "key", Value: "", Message: "an EC2 key pair name is required"}
	}

	input := &awsec2.RunInstancesInput{
		ImageId:      aws.String(ami),
		InstanceType: types.InstanceType(itype),
		MinCount:     aws.Int32(int32(req.Count)),
		MaxCount:     aws.Int32(int32(req.Count)),
		KeyName:      aws.String(keyName),
		InstanceMarketOptions: &types.InstanceMarketOptionsRequest{
			MarketType:  types.MarketTypeSpot,
			SpotOptions: &types.SpotMarketOptions{MaxPrice: aws.String(price)},
		},
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         []types.Tag{{Key: aws.String(p.tagKey), Value: aws.String(req.Fleet)}},
		}},
		NetworkInterfaces: []types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              aws.Int32(0),
			AssociatePublicIpAddress: aws.Bool(true),
		}},
		BlockDeviceMappings: []types.BlockDeviceMapping{
			{DeviceName: aws.String("/dev/xvdb"), VirtualName: aws.String("ephemeral0")},
			{DeviceName: aws.String("/dev/xvdc"), VirtualName: aws.String("ephemeral1")},
		},
	}
	if sg := ec.SecurityGroup; sg != "" {
		input.NetworkInterfaces[0].Groups = []string{sg}
	}

	out, err := p.api.RunInstances(ctx, input)
	if err != nil {
		return nil, apiError("RunInstances", err)
	}
	group := aws.ToString(out.ReservationId)
	records := make([]prov.InstanceRecord, 0, len(out.Instances))
	for _, inst := range out.Instances {
		records = append(records, toRecord(group, inst))
	}
	log.Info().Str("fleet", req.Fleet).Str("reservation", group).Int("count", len(records)).Msg("spot instances requested")
	return records, nil
}

// TerminateInstances issues a single termination call for ids. EC2 accepts
// already-terminated ids, which keeps repeated teardown idempotent.
func (p *Provider) TerminateInstances(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.api.TerminateInstances(ctx, &awsec2.TerminateInstancesInput{InstanceIds: ids})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "InvalidInstanceID.NotFound" {
			log.Warn().Strs("ids", ids).Msg("instances already gone")
			return nil
		}
		return apiError("TerminateInstances", err)
	}
	return nil
}

// Diagnose reports whether the configured security group admits SSH.
func (p *Provider) Diagnose(ctx context.Context, fleet string) ([]prov.Finding, error) {
	group := firstNonEmpty(p.cfg.Providers.EC2.SecurityGroup, "default")
	input := &awsec2.DescribeSecurityGroupsInput{}
	if strings.HasPrefix(group, "sg-") {
		input.GroupIds = []string{group}
	} else {
		input.GroupNames = []string{group}
	}
	out, err := p.api.DescribeSecurityGroups(ctx, input)
	if err != nil {
		return nil, apiError("DescribeSecurityGroups", err)
	}
	var findings []prov.Finding
	for _, sg := range out.SecurityGroups {
		subject := fmt.Sprintf("security group %s (%s)", aws.ToString(sg.GroupName), aws.ToString(sg.GroupId))
		cidrs := sshSources(sg.IpPermissions)
		if len(cidrs) == 0 {
			findings = append(findings, prov.Finding{Subject: subject, OK: false, Detail: "no inbound rule admits tcp/22"})
			continue
		}
		findings = append(findings, prov.Finding{Subject: subject, OK: true, Detail: "tcp/22 open to " + strings.Join(cidrs, ", ")})
	}
	if len(findings) == 0 {
		findings = append(findings, prov.Finding{Subject: "security group " + group, OK: false, Detail: "not found"})
	}
	return findings, nil
}

func sshSources(perms []types.IpPermission) []string {
	var cidrs []string
	for _, perm := range perms {
		proto := aws.ToString(perm.IpProtocol)
		if proto != "tcp" && proto != "-1" {
			continue
		}
		if proto == "tcp" {
			from, to := aws.ToInt32(perm.FromPort), aws.ToInt32(perm.ToPort)
			if from > 22 || to < 22 {
				continue
			}
		}
		for _, r := range perm.IpRanges {
			cidrs = append(cidrs, aws.ToString(r.CidrIp))
		}
		for _, r := range perm.Ipv6Ranges {
			cidrs = append(cidrs, aws.ToString(r.CidrIpv6))
		}
	}
	return cidrs
}

func toRecord(group string, inst types.Instance) prov.InstanceRecord {
	var state types.InstanceStateName
	if inst.State != nil {
		state = inst.State.Name
	}
	return prov.InstanceRecord{
		ID:      aws.ToString(inst.InstanceId),
		Address: aws.ToString(inst.PublicIpAddress),
		State:   mapState(state),
		Group:   group,
	}
}

func mapState(s types.InstanceStateName) prov.State {
	switch s {
	case types.InstanceStateNamePending:
		return prov.StatePending
	case types.InstanceStateNameRunning:
		return prov.StateRunning
	case types.InstanceStateNameTerminated:
		return prov.StateTerminated
	default:
		return prov.StateOther
	}
}

func apiError(op string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("ec2 %s: %s: %s", op, ae.ErrorCode(), ae.ErrorMessage())
	}
	return fmt.Errorf("ec2 %s: %w", op, err)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
