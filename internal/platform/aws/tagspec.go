package aws

import (
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/skiffcloud/skiff/internal/util/tags"
)

// EC2TagSpec converts a tag map into the TagSpecification EC2 expects at
// resource creation. Keys are sorted so request bodies are deterministic.
func EC2TagSpec(resourceType ec2types.ResourceType, tagMap map[string]string) ec2types.TagSpecification {
	keys := make([]string, 0, len(tagMap))
	for k := range tagMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ec2Tags := make([]ec2types.Tag, 0, len(keys))
	for _, k := range keys {
		ec2Tags = append(ec2Tags, ec2types.Tag{
			Key:   awssdk.String(k),
			Value: awssdk.String(tagMap[k]),
		})
	}

	return ec2types.TagSpecification{
		ResourceType: resourceType,
		Tags:         ec2Tags,
	}
}

// EC2RunFilters builds the describe filters matching resources tagged with
// both the app name and the run id. Both tags together distinguish this
// run's resources from any other's in the same account.
func EC2RunFilters(app, runID string) []ec2types.Filter {
	return []ec2types.Filter{
		{
			Name:   awssdk.String(tags.AppFilterName()),
			Values: []string{app},
		},
		{
			Name:   awssdk.String(tags.RunIDFilterName()),
			Values: []string{runID},
		},
	}
}
